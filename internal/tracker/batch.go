package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/progress-tracker/internal/progress"
)

// BatchItem describes one child tracker of a batch. Zero values fall back to
// batch-derived defaults.
type BatchItem struct {
	Operation   string         `json:"operation"`
	Description string         `json:"description"`
	TotalSteps  int            `json:"total_steps"`
	Metadata    map[string]any `json:"metadata"`
}

// BatchRequest describes a new batch.
type BatchRequest struct {
	Operation   string         `json:"operation"`
	Description string         `json:"description"`
	Items       []BatchItem    `json:"batch_items"`
	Category    string         `json:"category"`
	UserID      string         `json:"user_id"`
	Metadata    map[string]any `json:"metadata"`
}

// Validate checks the request and every item before anything is written.
func (r BatchRequest) Validate() error {
	errs := fieldErrors{}
	validateOperation(errs, "operation", r.Operation)
	validateDescription(errs, "description", r.Description)
	switch {
	case len(r.Items) == 0:
		errs.add("batch_items", "at least one item is required")
	case len(r.Items) > MaxBatchItems:
		errs.add("batch_items", "at most 1000 items are allowed")
	}
	for i, item := range r.Items {
		field := fmt.Sprintf("batch_items[%d]", i)
		if item.Operation != "" {
			validateOperation(errs, field+".operation", item.Operation)
		}
		validateDescription(errs, field+".description", item.Description)
		if item.TotalSteps < 0 {
			errs.add(field+".total_steps", "must be at least 1")
		}
	}
	return errs.err()
}

// Batch is the coordinating record of a group of child trackers. It holds
// child ids only; counters reflect the last recompute.
type Batch struct {
	ID             string         `json:"id"`
	Operation      string         `json:"operation"`
	Description    string         `json:"description"`
	TotalItems     int            `json:"total_items"`
	CompletedItems int            `json:"completed_items"`
	FailedItems    int            `json:"failed_items"`
	PendingItems   int            `json:"pending_items"`
	Percentage     float64        `json:"percentage"`
	Status         Status         `json:"status"`
	Category       string         `json:"category,omitempty"`
	UserID         string         `json:"user_id,omitempty"`
	Metadata       map[string]any `json:"metadata"`
	ItemTrackers   []string       `json:"item_trackers"`
	StartedAt      time.Time      `json:"started_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	ElapsedSeconds float64        `json:"elapsed_time"`
}

// Terminal reports whether every child has finished.
func (b Batch) Terminal() bool {
	return b.Status.Terminal()
}

// Snapshot returns the batch with elapsed time computed against now.
func (b Batch) Snapshot(now time.Time) Batch {
	b.ElapsedSeconds = roundTo2(now.Sub(b.StartedAt).Seconds())
	if b.ElapsedSeconds < 0 {
		b.ElapsedSeconds = 0
	}
	return b
}

// CreateBatch creates one pending child tracker per item and then the batch
// record referencing them. Children written before a failure are left to
// expire.
func (s *Service) CreateBatch(ctx context.Context, req BatchRequest) (Batch, error) {
	if err := req.Validate(); err != nil {
		return Batch{}, err
	}
	batchID, err := s.ids.NewID()
	if err != nil {
		return Batch{}, fmt.Errorf("generate batch id: %w", err)
	}
	now := s.now()
	children := make([]Tracker, 0, len(req.Items))
	for i, item := range req.Items {
		childID, err := s.ids.NewID()
		if err != nil {
			return Batch{}, fmt.Errorf("generate tracker id: %w", err)
		}
		child := newTracker(childID, childRequest(req, item, batchID, i), StatusPending, now)
		if err := s.saveTracker(ctx, child); err != nil {
			return Batch{}, err
		}
		children = append(children, child)
	}

	b := Batch{
		ID:           batchID,
		Operation:    req.Operation,
		Description:  req.Description,
		TotalItems:   len(children),
		PendingItems: len(children),
		Status:       StatusStarted,
		Category:     req.Category,
		UserID:       req.UserID,
		Metadata:     mergeMetadata(nil, req.Metadata),
		ItemTrackers: make([]string, 0, len(children)),
		StartedAt:    now,
		UpdatedAt:    now,
	}
	for _, child := range children {
		b.ItemTrackers = append(b.ItemTrackers, child.ID)
	}
	if err := s.save(ctx, batchPrefix+b.ID, b); err != nil {
		return Batch{}, err
	}
	for _, child := range children {
		s.notifyTracker(progress.KindCreated, child)
	}
	s.notifyBatch(b)
	return b.Snapshot(now), nil
}

// RecomputeBatch re-reads every child of the batch, refreshes its counters
// and status, and re-persists it. Child reads are not isolated from
// concurrent updates; the next recompute corrects any skew.
func (s *Service) RecomputeBatch(ctx context.Context, id string) (Batch, error) {
	b, err := s.loadBatch(ctx, id)
	if err != nil {
		return Batch{}, err
	}
	tally := batchTally{}
	for _, childID := range b.ItemTrackers {
		child, err := s.loadTracker(ctx, childID)
		switch {
		case errors.Is(err, ErrNotFound):
			s.logger.Warn("batch child missing; counting as failed",
				zap.String("batch_id", b.ID),
				zap.String("tracker_id", childID),
			)
			tally.failed++
			continue
		case err != nil:
			return Batch{}, err
		}
		tally.add(child)
	}

	now := s.now()
	b.TotalItems = len(b.ItemTrackers)
	b.CompletedItems = tally.completed
	b.FailedItems = tally.failed
	b.PendingItems = b.TotalItems - tally.completed - tally.failed
	b.Percentage = percentage(b.CompletedItems, b.TotalItems)
	b.Status = tally.status(b.TotalItems)
	b.UpdatedAt = now
	if b.Terminal() && b.CompletedAt == nil {
		b.CompletedAt = &now
	}
	if err := s.save(ctx, batchPrefix+b.ID, b); err != nil {
		return Batch{}, err
	}
	s.notifyBatch(b)
	return b.Snapshot(now), nil
}

// GetBatch returns the batch as of its last recompute.
func (s *Service) GetBatch(ctx context.Context, id string) (Batch, error) {
	b, err := s.loadBatch(ctx, id)
	if err != nil {
		return Batch{}, err
	}
	return b.Snapshot(s.now()), nil
}

func (s *Service) loadBatch(ctx context.Context, id string) (Batch, error) {
	if strings.TrimSpace(id) == "" {
		return Batch{}, ErrBatchNotFound
	}
	var b Batch
	if err := s.load(ctx, batchPrefix+id, &b); err != nil {
		if isStoreNotFound(err) {
			return Batch{}, ErrBatchNotFound
		}
		return Batch{}, err
	}
	return b, nil
}

func (s *Service) notifyBatch(b Batch) {
	n := progress.Notification{
		TrackerID: b.ID,
		Kind:      progress.KindBatch,
		Status:    string(b.Status),
		Category:  b.Category,
		Terminal:  b.Terminal(),
		TS:        b.UpdatedAt,
		Snapshot:  b.Snapshot(b.UpdatedAt),
	}
	if b.CompletedAt != nil {
		n.Dur = b.CompletedAt.Sub(b.StartedAt)
	}
	s.emitter.Emit(n)
}

func childRequest(req BatchRequest, item BatchItem, batchID string, index int) CreateRequest {
	op := item.Operation
	if op == "" {
		op = fmt.Sprintf("%s item %d", req.Operation, index+1)
	}
	steps := item.TotalSteps
	if steps < 1 {
		steps = 1
	}
	return CreateRequest{
		Operation:   op,
		Description: item.Description,
		TotalSteps:  steps,
		Category:    req.Category,
		UserID:      req.UserID,
		Metadata: mergeMetadata(map[string]any{
			"batch_id":    batchID,
			"batch_index": index,
		}, item.Metadata),
	}
}

// batchTally classifies children into finished successes, failures, and
// everything still open.
type batchTally struct {
	completed int
	failed    int
	progress  bool
}

func (t *batchTally) add(child Tracker) {
	switch child.Status {
	case StatusCompleted:
		t.completed++
	case StatusFailed, StatusCancelled:
		t.failed++
	case StatusInProgress, StatusPaused:
		t.progress = true
	default:
		if child.CurrentStep > 0 {
			t.progress = true
		}
	}
}

func (t batchTally) status(total int) Status {
	finished := t.completed + t.failed
	switch {
	case finished == total && t.failed == 0:
		return StatusCompleted
	case finished == total:
		return StatusCompletedWithErrors
	case finished > 0 || t.progress:
		return StatusInProgress
	default:
		return StatusStarted
	}
}
