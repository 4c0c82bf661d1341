// Package provision creates a variable set, an extraction query with its
// extractor, an operation and a deployment in a rule repository, removing
// earlier copies first so that runs can be repeated.
package provision

import (
	"context"
	"fmt"

	"github.com/orian/rulerepo/models"
	"github.com/orian/rulerepo/session"
)

// Repository is the part of a repository session the workflow uses.
// *session.Session implements it.
type Repository interface {
	session.Finder
	ProjectNamed(ctx context.Context, name string) (*models.Project, error)
	CreateElement(kind models.Kind) (models.ElementHandle, error)
	Details(ctx context.Context, h models.ElementHandle) (*models.Element, error)
	ProjectInfo(ctx context.Context, branchID string) (*models.Element, error)
	Commit(ctx context.Context, branchID string, cs *models.ChangeSet) (models.ElementHandle, error)
	Delete(ctx context.Context, branchID string, el *models.Element) error
}

var _ Repository = (*session.Session)(nil)

// Baselines are the current branches of the source and target projects.
// Every call that reads or writes takes one of them explicitly.
type Baselines struct {
	Source        string
	Target        string
	SourceProject *models.Project
	TargetProject *models.Project
}

// ResolveBaselines looks up both projects and their current baselines.
func ResolveBaselines(ctx context.Context, repo Repository) (Baselines, error) {
	source, err := repo.ProjectNamed(ctx, SourceProject)
	if err != nil {
		return Baselines{}, fmt.Errorf("failed to find project %s: %w", SourceProject, err)
	}
	target, err := repo.ProjectNamed(ctx, TargetProject)
	if err != nil {
		return Baselines{}, fmt.Errorf("failed to find project %s: %w", TargetProject, err)
	}
	return Baselines{
		Source:        source.CurrentBranchID,
		Target:        target.CurrentBranchID,
		SourceProject: source,
		TargetProject: target,
	}, nil
}
