package provision

import (
	"context"
	"fmt"
	"log"

	"github.com/orian/rulerepo/models"
	"github.com/orian/rulerepo/session"
)

// CleanupResult lists what a cleanup pass removed and what it left behind.
type CleanupResult struct {
	Deleted []string
	// Skipped holds names matched by more than one element.
	Skipped []string
}

type cleanupTarget struct {
	kind   models.Kind
	name   string
	branch func(Baselines) string
}

func sourceBranch(b Baselines) string { return b.Source }
func targetBranch(b Baselines) string { return b.Target }

// cleanupTargets lists every top-level element the workflow creates, with
// the baseline it is committed to.
var cleanupTargets = []cleanupTarget{
	{models.KindQuery, QueryName, targetBranch},
	{models.KindOperation, OperationName, targetBranch},
	{models.KindDeployment, DeploymentName, sourceBranch},
	{models.KindVariableSet, VariableSetName, sourceBranch},
}

// Cleanup removes the elements left by an earlier run. Absent elements are
// skipped, so a first run succeeds on an empty repository. Names matched by
// several elements are logged and left untouched.
func (f *Factories) Cleanup(ctx context.Context) (*CleanupResult, error) {
	result := &CleanupResult{}

	if err := f.cleanupExtractors(ctx, result); err != nil {
		return nil, err
	}

	for _, t := range cleanupTargets {
		branchID := t.branch(f.baselines)
		r, err := session.Resolve(ctx, f.repo, branchID, t.kind, t.name)
		if err != nil {
			return nil, err
		}

		switch r.Status {
		case session.NotFound:
			continue
		case session.Ambiguous:
			log.Printf("Cleanup: %d %s elements named %q, leaving them in place", r.Matches, t.kind, t.name)
			result.Skipped = append(result.Skipped, t.name)
			continue
		}

		if err := f.repo.Delete(ctx, branchID, r.Element); err != nil {
			return nil, fmt.Errorf("failed to delete %s %q: %w", t.kind, t.name, err)
		}
		log.Printf("Cleanup: deleted %s %q", t.kind, t.name)
		result.Deleted = append(result.Deleted, t.name)
	}
	return result, nil
}

// cleanupExtractors removes every extractor named ExtractorName from the
// target baseline's project info in one commit.
func (f *Factories) cleanupExtractors(ctx context.Context, result *CleanupResult) error {
	info, err := f.repo.ProjectInfo(ctx, f.baselines.Target)
	if err != nil {
		return err
	}

	cs := models.NewChangeSet(infoRoot(info))
	for _, ext := range info.ChildrenOf(models.RelProjectInfoExtractors) {
		if ext.Name == ExtractorName {
			cs.Delete(models.RelProjectInfoExtractors, ext)
		}
	}
	if len(cs.Deleted) == 0 {
		return nil
	}

	if _, err := f.repo.Commit(ctx, f.baselines.Target, cs); err != nil {
		return fmt.Errorf("failed to delete extractor %q: %w", ExtractorName, err)
	}
	log.Printf("Cleanup: deleted %d extractor(s) %q", len(cs.Deleted), ExtractorName)
	result.Deleted = append(result.Deleted, ExtractorName)
	return nil
}
