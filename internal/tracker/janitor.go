package tracker

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/progress-tracker/internal/progress"
	"github.com/JakeFAU/progress-tracker/internal/store"
)

const (
	uncategorized = "uncategorized"
	anonymousUser = "anonymous"
)

// CleanupResult summarises one retention sweep.
type CleanupResult struct {
	Examined int       `json:"examined"`
	Deleted  int       `json:"deleted"`
	Purged   int64     `json:"purged"`
	RanAt    time.Time `json:"ran_at"`
}

// Statistics aggregates every live tracker in one pass.
type Statistics struct {
	Total                  int            `json:"total"`
	Active                 int            `json:"active"`
	ByStatus               map[Status]int `json:"by_status"`
	ByCategory             map[string]int `json:"by_category"`
	ByUser                 map[string]int `json:"by_user"`
	AverageDurationSeconds float64        `json:"average_duration_seconds"`
	SuccessRate            float64        `json:"success_rate"`
	Batches                int            `json:"batches"`
	GeneratedAt            time.Time      `json:"generated_at"`
}

// Cleanup deletes trackers and batches that are terminal and whose last
// update is older than the retention window. Backends that keep expired rows
// on disk are purged as part of the sweep.
func (s *Service) Cleanup(ctx context.Context) (CleanupResult, error) {
	now := s.now()
	cutoff := now.Add(-s.cfg.Retention)
	res := CleanupResult{RanAt: now}

	trackers, err := s.allTrackers(ctx)
	if err != nil {
		return res, err
	}
	for _, t := range trackers {
		res.Examined++
		if !t.Terminal() || !t.UpdatedAt.Before(cutoff) {
			continue
		}
		if err := s.store.Delete(ctx, trackerPrefix+t.ID); err != nil {
			return res, s.unavailable("sweep tracker", err)
		}
		res.Deleted++
		n := trackerNotification(progress.KindDeleted, t)
		n.TS = now
		s.emitter.Emit(n)
	}

	batchKeys, err := s.store.Scan(ctx, batchPrefix)
	if err != nil {
		return res, s.unavailable("scan batches", err)
	}
	for _, key := range batchKeys {
		var b Batch
		if err := s.load(ctx, key, &b); err != nil {
			if isStoreNotFound(err) {
				continue
			}
			return res, err
		}
		res.Examined++
		if !b.Terminal() || !b.UpdatedAt.Before(cutoff) {
			continue
		}
		if err := s.store.Delete(ctx, key); err != nil {
			return res, s.unavailable("sweep batch", err)
		}
		res.Deleted++
	}

	if purger, ok := s.store.(store.Purger); ok {
		purged, err := purger.PurgeExpired(ctx)
		if err != nil {
			return res, s.unavailable("purge expired", err)
		}
		res.Purged = purged
	}
	s.logger.Info("cleanup finished",
		zap.Int("examined", res.Examined),
		zap.Int("deleted", res.Deleted),
		zap.Int64("purged", res.Purged),
	)
	return res, nil
}

// Statistics computes fleet-wide aggregates over all live trackers.
func (s *Service) Statistics(ctx context.Context) (Statistics, error) {
	trackers, err := s.allTrackers(ctx)
	if err != nil {
		return Statistics{}, err
	}
	batchKeys, err := s.store.Scan(ctx, batchPrefix)
	if err != nil {
		return Statistics{}, s.unavailable("scan batches", err)
	}

	stats := Statistics{
		Total:       len(trackers),
		ByStatus:    map[Status]int{},
		ByCategory:  map[string]int{},
		ByUser:      map[string]int{},
		Batches:     len(batchKeys),
		GeneratedAt: s.now(),
	}
	var (
		totalDuration time.Duration
		finished      int
	)
	for _, t := range trackers {
		stats.ByStatus[t.Status]++
		stats.ByCategory[orDefault(t.Category, uncategorized)]++
		stats.ByUser[orDefault(t.UserID, anonymousUser)]++
		if !t.Terminal() {
			stats.Active++
		}
		if end := t.FinishedAt(); end != nil {
			totalDuration += end.Sub(t.StartedAt)
			finished++
		}
	}
	if finished > 0 {
		stats.AverageDurationSeconds = roundTo2((totalDuration / time.Duration(finished)).Seconds())
	}
	completed := stats.ByStatus[StatusCompleted]
	ended := completed + stats.ByStatus[StatusFailed] + stats.ByStatus[StatusCancelled]
	if ended > 0 {
		stats.SuccessRate = roundTo2(float64(completed) / float64(ended) * 100)
	}
	return stats, nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
