package retention

import (
	"fmt"
	"os"
	"sort"
	"time"

	"dbkeeper/internal/backup"
	"dbkeeper/internal/config"
	"dbkeeper/internal/logging"
)

// Plan is a deletion plan computed from a list of artifacts and a policy.
// Computing the plan mutates nothing; applying it is a separate, auditable
// step.
type Plan struct {
	Delete []*backup.BackupArtifact
	Keep   []*backup.BackupArtifact
	Cutoff time.Time
}

// BuildPlan decides which artifacts an age policy removes. Per
// instance/database pair, at least KeepCount newest artifacts survive
// regardless of age, so a quiet instance never loses its last backup. An
// explicit min_keep_count of zero disables that floor.
func BuildPlan(artifacts []*backup.BackupArtifact, policy config.RetentionSettings, now time.Time) *Plan {
	plan := &Plan{
		Cutoff: now.Add(-policy.MaxAge),
	}

	// Group per instance/database, newest first within each group.
	groups := make(map[string][]*backup.BackupArtifact)
	for _, artifact := range artifacts {
		key := artifact.Instance + "\x00" + artifact.DatabaseName
		groups[key] = append(groups[key], artifact)
	}

	keys := make([]string, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		group := groups[key]
		sort.Slice(group, func(i, j int) bool {
			return group[i].CreatedAt.After(group[j].CreatedAt)
		})

		for i, artifact := range group {
			if i < policy.KeepCount() || !artifact.CreatedAt.Before(plan.Cutoff) {
				plan.Keep = append(plan.Keep, artifact)
			} else {
				plan.Delete = append(plan.Delete, artifact)
			}
		}
	}

	return plan
}

// ApplyResult records what an applied plan actually did.
type ApplyResult struct {
	Deleted []string
	Errors  []error
	DryRun  bool
}

// Apply executes the plan. Role snapshots paired with a deleted artifact are
// removed with it. Dry run reports the plan without touching anything.
func Apply(plan *Plan, dryRun bool, logger *logging.Logger) *ApplyResult {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}

	result := &ApplyResult{DryRun: dryRun}
	for _, artifact := range plan.Delete {
		if dryRun {
			logger.Infof("Would delete %s (created %s)", artifact.Path, artifact.CreatedAt.Format(time.RFC3339))
			result.Deleted = append(result.Deleted, artifact.Path)
			continue
		}

		if err := os.Remove(artifact.Path); err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("%s: %w", artifact.Path, err))
			continue
		}
		if artifact.RoleSnapshotPath != "" {
			if err := os.Remove(artifact.RoleSnapshotPath); err != nil && !os.IsNotExist(err) {
				result.Errors = append(result.Errors, fmt.Errorf("%s: %w", artifact.RoleSnapshotPath, err))
			}
		}
		logger.Infof("Deleted %s (created %s)", artifact.Path, artifact.CreatedAt.Format(time.RFC3339))
		result.Deleted = append(result.Deleted, artifact.Path)
	}
	return result
}
