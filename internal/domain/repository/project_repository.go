package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"mcpgate/internal/common"
	"mcpgate/internal/domain/model"

	"github.com/jackc/pgx/v5/pgconn"
)

type ProjectRepository interface {
	Create(ctx context.Context, project *model.Project) error
	FindByID(ctx context.Context, id int64) (*model.Project, error)
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]*model.Project, error)
	Update(ctx context.Context, project *model.Project) error
	Delete(ctx context.Context, id int64) error
}

type pgProjectRepository struct {
	db *sql.DB
}

func NewPgProjectRepository(db *sql.DB) ProjectRepository {
	return &pgProjectRepository{db: db}
}

func (r *pgProjectRepository) Create(ctx context.Context, project *model.Project) error {
	requirements, tools, err := marshalProjectFields(project)
	if err != nil {
		return err
	}
	query := `INSERT INTO projects (owner_id, name, description, python_version, requirements, tools)
	          VALUES ($1, $2, $3, $4, $5, $6)
	          RETURNING id, created_at, updated_at`
	err = r.db.QueryRowContext(ctx, query,
		project.OwnerID, project.Name, project.Description, project.PythonVersion, requirements, tools,
	).Scan(&project.ID, &project.CreatedAt, &project.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("project with given name already exists for owner: %w", common.ErrConflict)
		}
		return fmt.Errorf("pgProjectRepository.Create: %w", err)
	}
	return nil
}

func (r *pgProjectRepository) FindByID(ctx context.Context, id int64) (*model.Project, error) {
	query := `SELECT id, owner_id, name, description, python_version, requirements, tools, created_at, updated_at
	          FROM projects WHERE id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *pgProjectRepository) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*model.Project, error) {
	query := `SELECT id, owner_id, name, description, python_version, requirements, tools, created_at, updated_at
	          FROM projects WHERE owner_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("pgProjectRepository.ListByOwner: %w", err)
	}
	defer rows.Close()

	var projects []*model.Project
	for rows.Next() {
		p, err := r.scanOne(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (r *pgProjectRepository) Update(ctx context.Context, project *model.Project) error {
	requirements, tools, err := marshalProjectFields(project)
	if err != nil {
		return err
	}
	query := `UPDATE projects
	          SET name = $2, description = $3, python_version = $4, requirements = $5, tools = $6, updated_at = NOW()
	          WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query,
		project.ID, project.Name, project.Description, project.PythonVersion, requirements, tools)
	if err != nil {
		return fmt.Errorf("pgProjectRepository.Update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *pgProjectRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("pgProjectRepository.Delete: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *pgProjectRepository) scanOne(row rowScanner) (*model.Project, error) {
	p := &model.Project{}
	var requirements, tools []byte
	err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Description, &p.PythonVersion,
		&requirements, &tools, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgProjectRepository.scanOne: %w", err)
	}
	if len(requirements) > 0 {
		if err := json.Unmarshal(requirements, &p.Requirements); err != nil {
			return nil, fmt.Errorf("pgProjectRepository: bad requirements JSON for project %d: %w", p.ID, err)
		}
	}
	if len(tools) > 0 {
		if err := json.Unmarshal(tools, &p.Tools); err != nil {
			return nil, fmt.Errorf("pgProjectRepository: bad tools JSON for project %d: %w", p.ID, err)
		}
	}
	return p, nil
}

func marshalProjectFields(project *model.Project) (requirements, tools []byte, err error) {
	requirements, err = json.Marshal(project.Requirements)
	if err != nil {
		return nil, nil, fmt.Errorf("pgProjectRepository: marshal requirements: %w", err)
	}
	tools, err = json.Marshal(project.Tools)
	if err != nil {
		return nil, nil, fmt.Errorf("pgProjectRepository: marshal tools: %w", err)
	}
	return requirements, tools, nil
}
