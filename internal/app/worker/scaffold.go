package worker

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"mcpgate/internal/domain/model"

	"github.com/gosimple/slug"
)

// scaffoldProject writes the generated project files into a fresh build
// context directory and returns the directory and the image tag.
func scaffoldProject(payload *model.ProjectBuildPayload) (dir, tag string, err error) {
	data := payload.ProjectData
	if data.Name == "" {
		return "", "", fmt.Errorf("project %d has no name", payload.ProjectID)
	}

	dir, err = os.MkdirTemp("", "mcpgate-build-")
	if err != nil {
		return "", "", fmt.Errorf("failed to create build context: %w", err)
	}

	files := map[string]string{
		"Dockerfile":       generateDockerfile(data),
		"requirements.txt": generateRequirements(data),
		"server.py":        generateServer(data),
		"README.md":        generateReadme(data),
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			return dir, "", fmt.Errorf("failed to write %s: %w", name, err)
		}
	}

	tag = fmt.Sprintf("mcp-project-%s:latest", slug.Make(data.Name))
	if override, ok := payload.BuildOptions["image_tag"]; ok && override != "" {
		tag = override
	}
	return dir, tag, nil
}

func generateDockerfile(data model.ProjectData) string {
	version := data.PythonVersion
	if version == "" {
		version = "3.11"
	}
	return fmt.Sprintf(`FROM python:%s-slim

WORKDIR /app

COPY requirements.txt .
RUN pip install --no-cache-dir -r requirements.txt

COPY server.py .
COPY README.md .

RUN useradd -m -u 1000 mcpuser && chown -R mcpuser:mcpuser /app
USER mcpuser

EXPOSE 8080

CMD ["python", "server.py"]
`, version)
}

func generateRequirements(data model.ProjectData) string {
	requirements := strings.Join(data.Requirements, "\n")
	if !strings.Contains(requirements, "mcp") {
		if requirements != "" {
			requirements += "\n"
		}
		requirements += "mcp>=0.1.0"
	}
	return requirements + "\n"
}

func generateServer(data model.ProjectData) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#!/usr/bin/env python3\n\"\"\"%s - %s\"\"\"\n\n", data.Name, data.Description)
	b.WriteString("from mcp.server import Server\nimport mcp.server.stdio\n\n")
	fmt.Fprintf(&b, "server = Server(%q)\n\n", data.Name)
	for _, tool := range data.Tools {
		fmt.Fprintf(&b, "@server.call_tool()\nasync def %s(arguments: dict):\n    \"\"\"%s\"\"\"\n    raise NotImplementedError\n\n",
			tool.Name, tool.Description)
	}
	b.WriteString("if __name__ == \"__main__\":\n    mcp.server.stdio.run(server)\n")
	return b.String()
}

func generateReadme(data model.ProjectData) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n%s\n", data.Name, data.Description)
	if len(data.Tools) > 0 {
		b.WriteString("\n## Tools\n\n")
		for _, tool := range data.Tools {
			fmt.Fprintf(&b, "- **%s**: %s\n", tool.Name, tool.Description)
		}
	}
	return b.String()
}
