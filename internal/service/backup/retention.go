package backup

import (
	"context"
	"sort"
	"time"

	"github.com/jwalitptl/clinic-records/internal/model"
)

// RetentionPolicy keeps at most MaxBackups artifacts and, when MaxAge is
// positive, nothing older than MaxAge.
type RetentionPolicy struct {
	MaxBackups int
	MaxAge     time.Duration
}

// SelectExpired returns the artifacts the policy would delete, oldest last.
// Everything it returns is older than everything it keeps.
func SelectExpired(artifacts []model.BackupArtifact, policy RetentionPolicy, now time.Time) []model.BackupArtifact {
	sorted := make([]model.BackupArtifact, len(artifacts))
	copy(sorted, artifacts)
	sortNewestFirst(sorted)

	keep := len(sorted)
	if policy.MaxBackups >= 0 && keep > policy.MaxBackups {
		keep = policy.MaxBackups
	}
	if policy.MaxAge > 0 {
		cutoff := now.Add(-policy.MaxAge)
		for keep > 0 && sorted[keep-1].LastModified.Before(cutoff) {
			keep--
		}
	}
	return sorted[keep:]
}

func sortNewestFirst(artifacts []model.BackupArtifact) {
	sort.SliceStable(artifacts, func(i, j int) bool {
		if artifacts[i].LastModified.Equal(artifacts[j].LastModified) {
			return artifacts[i].Key > artifacts[j].Key
		}
		return artifacts[i].LastModified.After(artifacts[j].LastModified)
	})
}

func (s *Service) policy() RetentionPolicy {
	return RetentionPolicy{
		MaxBackups: s.cfg.MaxBackups,
		MaxAge:     time.Duration(s.cfg.RetentionDays) * 24 * time.Hour,
	}
}

// PruneOldBackups deletes artifacts past the retention policy. A failed
// delete is logged and the artifact counted as remaining. If ctx ends
// mid-run the deletions made so far are returned with the context error.
func (s *Service) PruneOldBackups(ctx context.Context) (*model.RetentionResult, error) {
	artifacts, err := s.listArtifacts(ctx)
	if err != nil {
		return nil, err
	}

	expired := SelectExpired(artifacts, s.policy(), s.now())
	result := &model.RetentionResult{Deleted: make([]string, 0, len(expired))}
	var ctxErr error
	for _, a := range expired {
		if ctxErr = ctx.Err(); ctxErr != nil {
			break
		}
		if err := s.objects.Delete(ctx, a.Key); err != nil {
			s.log.Error(err, "failed to delete backup", "key", a.Key)
			continue
		}
		result.Deleted = append(result.Deleted, a.Key)
	}
	result.DeletedCount = len(result.Deleted)
	result.RemainingCount = len(artifacts) - result.DeletedCount

	s.metrics.BackupsPruned.Add(float64(result.DeletedCount))
	s.metrics.BackupsRemaining.Set(float64(result.RemainingCount))
	if ctxErr != nil {
		s.log.Warn("backup retention interrupted", "deleted", result.DeletedCount, "remaining", result.RemainingCount)
		return result, ctxErr
	}
	s.log.Info("backup retention applied", "deleted", result.DeletedCount, "remaining", result.RemainingCount)
	return result, nil
}
