package backup

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-records/internal/model"
)

func artifactsAt(base time.Time, n int) []model.BackupArtifact {
	out := make([]model.BackupArtifact, n)
	for i := range out {
		out[i] = model.BackupArtifact{
			Key:          fmt.Sprintf("backup_%02d.json", i),
			LastModified: base.Add(time.Duration(i) * time.Hour),
		}
	}
	return out
}

func TestSelectExpiredCountCap(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	rng := rand.New(rand.NewSource(7))

	for n := 0; n <= 12; n++ {
		for k := 0; k <= 12; k++ {
			artifacts := artifactsAt(now.Add(-24*time.Hour), n)
			rng.Shuffle(len(artifacts), func(i, j int) { artifacts[i], artifacts[j] = artifacts[j], artifacts[i] })

			expired := SelectExpired(artifacts, RetentionPolicy{MaxBackups: k}, now)

			want := n - k
			if want < 0 {
				want = 0
			}
			require.Len(t, expired, want, "n=%d k=%d", n, k)

			deleted := map[string]bool{}
			for _, a := range expired {
				deleted[a.Key] = true
			}
			for _, kept := range artifacts {
				if deleted[kept.Key] {
					continue
				}
				for _, gone := range expired {
					assert.True(t, gone.LastModified.Before(kept.LastModified),
						"deleted %s is not older than kept %s", gone.Key, kept.Key)
				}
			}
		}
	}
}

func TestSelectExpiredAgeLimit(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	artifacts := []model.BackupArtifact{
		{Key: "backup_new.json", LastModified: now.Add(-time.Hour)},
		{Key: "backup_week.json", LastModified: now.Add(-7 * 24 * time.Hour)},
		{Key: "backup_old.json", LastModified: now.Add(-40 * 24 * time.Hour)},
	}

	expired := SelectExpired(artifacts, RetentionPolicy{MaxBackups: 10, MaxAge: 30 * 24 * time.Hour}, now)
	require.Len(t, expired, 1)
	assert.Equal(t, "backup_old.json", expired[0].Key)

	expired = SelectExpired(artifacts, RetentionPolicy{MaxBackups: 1, MaxAge: 30 * 24 * time.Hour}, now)
	assert.Len(t, expired, 2)

	expired = SelectExpired(artifacts, RetentionPolicy{MaxBackups: 10}, now)
	assert.Empty(t, expired)
}

func TestSelectExpiredDoesNotReorderInput(t *testing.T) {
	now := time.Now()
	artifacts := artifactsAt(now, 4)
	original := append([]model.BackupArtifact(nil), artifacts...)

	SelectExpired(artifacts, RetentionPolicy{MaxBackups: 1}, now)
	assert.Equal(t, original, artifacts)
}
