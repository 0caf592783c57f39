package model

import "time"

// Project is a user-defined MCP server project. The relational store owns
// these records; builds only read the fields captured in ProjectData.
type Project struct {
	ID            int64         `json:"id"`
	OwnerID       string        `json:"owner_id"`
	Name          string        `json:"name"`
	Description   string        `json:"description"`
	PythonVersion string        `json:"python_version"`
	Requirements  []string      `json:"requirements"`
	Tools         []ProjectTool `json:"tools"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Data returns the build-facing view of the project.
func (p *Project) Data() ProjectData {
	return ProjectData{
		Name:          p.Name,
		Description:   p.Description,
		PythonVersion: p.PythonVersion,
		Requirements:  p.Requirements,
		Tools:         p.Tools,
	}
}
