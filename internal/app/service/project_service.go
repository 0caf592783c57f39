package service

import (
	"context"
	"fmt"

	"mcpgate/internal/app/build"
	"mcpgate/internal/common"
	"mcpgate/internal/domain/model"
	"mcpgate/internal/domain/repository"
)

// ProjectService owns project CRUD and hands finished definitions to the
// build manager.
type ProjectService struct {
	projectRepo repository.ProjectRepository
	builds      *build.Manager
}

func NewProjectService(projectRepo repository.ProjectRepository, builds *build.Manager) *ProjectService {
	return &ProjectService{projectRepo: projectRepo, builds: builds}
}

type ProjectRequest struct {
	Name          string              `json:"name"`
	Description   string              `json:"description"`
	PythonVersion string              `json:"python_version"`
	Requirements  []string            `json:"requirements"`
	Tools         []model.ProjectTool `json:"tools"`
}

func (s *ProjectService) Create(ctx context.Context, ownerID string, req ProjectRequest) (*model.Project, error) {
	if req.Name == "" {
		return nil, common.Errorf("%w: project name is required", common.ErrValidation)
	}
	for _, tool := range req.Tools {
		if tool.Name == "" {
			return nil, common.Errorf("%w: tool name is required", common.ErrValidation)
		}
	}

	project := &model.Project{
		OwnerID:       ownerID,
		Name:          req.Name,
		Description:   req.Description,
		PythonVersion: req.PythonVersion,
		Requirements:  req.Requirements,
		Tools:         req.Tools,
	}
	if project.PythonVersion == "" {
		project.PythonVersion = "3.11"
	}

	if err := s.projectRepo.Create(ctx, project); err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}
	return project, nil
}

func (s *ProjectService) Get(ctx context.Context, userID string, id int64) (*model.Project, error) {
	project, err := s.projectRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if project.OwnerID != userID {
		return nil, common.ErrForbidden
	}
	return project, nil
}

func (s *ProjectService) List(ctx context.Context, userID string, limit int) ([]*model.Project, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.projectRepo.ListByOwner(ctx, userID, limit)
}

func (s *ProjectService) Update(ctx context.Context, userID string, id int64, req ProjectRequest) (*model.Project, error) {
	project, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if req.Name == "" {
		return nil, common.Errorf("%w: project name is required", common.ErrValidation)
	}

	project.Name = req.Name
	project.Description = req.Description
	project.Requirements = req.Requirements
	project.Tools = req.Tools
	if req.PythonVersion != "" {
		project.PythonVersion = req.PythonVersion
	}

	if err := s.projectRepo.Update(ctx, project); err != nil {
		return nil, fmt.Errorf("failed to update project: %w", err)
	}
	return project, nil
}

func (s *ProjectService) Delete(ctx context.Context, userID string, id int64) error {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return err
	}
	return s.projectRepo.Delete(ctx, id)
}

// Build queues an image build for the project and returns the build id.
func (s *ProjectService) Build(ctx context.Context, userID string, id int64, options map[string]string) (string, error) {
	project, err := s.Get(ctx, userID, id)
	if err != nil {
		return "", err
	}

	buildID, err := s.builds.StartProjectBuild(ctx, model.ProjectBuildPayload{
		ProjectID:    project.ID,
		ProjectData:  project.Data(),
		BuildOptions: options,
	})
	if err != nil {
		return "", fmt.Errorf("failed to queue project build: %w", err)
	}
	return buildID, nil
}
