package reconcile

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/venkytv/calendar-sync/internal/models"
)

// RecomputeStats rebuilds the owner's per-subject counters from synced records.
// The read model is replaced wholesale, so running it twice is harmless.
func (e *Engine) RecomputeStats(ctx context.Context, ownerID string) ([]*models.ClientStats, error) {
	records, err := e.store.ListOwnerSyncRecords(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync records: %w", err)
	}

	now := e.opts.Now()
	stats := ComputeStats(ownerID, records, now)
	for _, s := range stats {
		s.UpdatedAt = now
	}

	if err := e.store.ReplaceClientStats(ctx, ownerID, stats); err != nil {
		return nil, fmt.Errorf("failed to store client stats: %w", err)
	}

	e.logger.Debug("Recomputed client stats", "owner_id", ownerID, "subjects", len(stats))
	return stats, nil
}

// ComputeStats counts synced pairings per subject. Upcoming events start at
// or after now; the rest are completed.
func ComputeStats(ownerID string, records []*models.SyncRecord, now time.Time) []*models.ClientStats {
	bySubject := make(map[string]*models.ClientStats)
	for _, record := range records {
		if record.SubjectID == "" || record.SyncStatus != models.SyncStatusSynced {
			continue
		}
		s, ok := bySubject[record.SubjectID]
		if !ok {
			s = &models.ClientStats{OwnerID: ownerID, SubjectID: record.SubjectID}
			bySubject[record.SubjectID] = s
		}
		s.TotalEvents++
		if record.IsUpcoming(now) {
			s.UpcomingEvents++
		} else {
			s.CompletedEvents++
		}
	}

	stats := make([]*models.ClientStats, 0, len(bySubject))
	for _, s := range bySubject {
		stats = append(stats, s)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].SubjectID < stats[j].SubjectID })
	return stats
}
