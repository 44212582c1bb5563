package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/progress-tracker/internal/progress"
	"github.com/JakeFAU/progress-tracker/internal/store"
)

const (
	trackerPrefix = "tracker:"
	batchPrefix   = "batch:"

	maxOperationLen   = 100
	maxDescriptionLen = 500

	// DefaultTTL is the sliding expiry applied on every write.
	DefaultTTL = time.Hour
	// DefaultRetention is how long terminal records survive a cleanup sweep.
	DefaultRetention = 24 * time.Hour
	// DefaultListLimit applies when a listing omits its limit.
	DefaultListLimit = 50
	// DefaultMaxListLimit caps any listing.
	DefaultMaxListLimit = 500
	// MaxBatchItems caps the children of one batch.
	MaxBatchItems = 1000
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces unique record identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Config tunes retention and listing behaviour.
type Config struct {
	// TTL is re-armed on every write. Zero disables expiry, leaving the
	// cleanup sweep as the only eviction.
	TTL time.Duration
	// Retention is the minimum age of a terminal record before Cleanup deletes it.
	Retention time.Duration
	// MaxListLimit caps List results.
	MaxListLimit int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		TTL:          DefaultTTL,
		Retention:    DefaultRetention,
		MaxListLimit: DefaultMaxListLimit,
	}
}

// CreateRequest describes a new tracker.
type CreateRequest struct {
	Operation   string         `json:"operation"`
	Description string         `json:"description"`
	TotalSteps  int            `json:"total_steps"`
	Category    string         `json:"category"`
	UserID      string         `json:"user_id"`
	Metadata    map[string]any `json:"metadata"`
}

// Validate checks the request before anything is written.
func (r CreateRequest) Validate() error {
	errs := fieldErrors{}
	validateOperation(errs, "operation", r.Operation)
	validateDescription(errs, "description", r.Description)
	if r.TotalSteps < 1 {
		errs.add("total_steps", "must be at least 1")
	}
	return errs.err()
}

// Filter narrows List results. Empty fields match everything.
type Filter struct {
	Category string
	UserID   string
	Status   Status
	Limit    int
}

// Service coordinates tracker records in the store and emits a notification
// for every successful write.
type Service struct {
	store   store.Store
	emitter progress.Emitter
	clock   Clock
	ids     IDGenerator
	cfg     Config
	logger  *zap.Logger
}

// NewService wires the store and collaborators. A nil emitter disables
// notifications; a nil logger discards logs.
func NewService(
	st store.Store,
	emitter progress.Emitter,
	clock Clock,
	ids IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if emitter == nil {
		emitter = progress.NopEmitter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.MaxListLimit <= 0 {
		cfg.MaxListLimit = DefaultMaxListLimit
	}
	return &Service{
		store:   st,
		emitter: emitter,
		clock:   clock,
		ids:     ids,
		cfg:     cfg,
		logger:  logger,
	}
}

// Create validates req and persists a new tracker in the started state.
func (s *Service) Create(ctx context.Context, req CreateRequest) (Tracker, error) {
	if err := req.Validate(); err != nil {
		return Tracker{}, err
	}
	id, err := s.ids.NewID()
	if err != nil {
		return Tracker{}, fmt.Errorf("generate tracker id: %w", err)
	}
	now := s.now()
	t := newTracker(id, req, StatusStarted, now)
	if err := s.saveTracker(ctx, t); err != nil {
		return Tracker{}, err
	}
	s.notifyTracker(progress.KindCreated, t)
	return t.Snapshot(now), nil
}

// Update applies u to the tracker identified by id and re-persists it,
// re-arming its TTL.
func (s *Service) Update(ctx context.Context, id string, u Update) (Tracker, error) {
	t, err := s.loadTracker(ctx, id)
	if err != nil {
		return Tracker{}, err
	}
	now := s.now()
	if err := t.Apply(u, now); err != nil {
		return Tracker{}, err
	}
	if err := s.saveTracker(ctx, t); err != nil {
		return Tracker{}, err
	}
	s.notifyTracker(progress.KindUpdated, t)
	return t.Snapshot(now), nil
}

// Get returns the tracker with its elapsed time recomputed.
func (s *Service) Get(ctx context.Context, id string) (Tracker, error) {
	t, err := s.loadTracker(ctx, id)
	if err != nil {
		return Tracker{}, err
	}
	return t.Snapshot(s.now()), nil
}

// List returns trackers matching f, most recently updated first.
func (s *Service) List(ctx context.Context, f Filter) ([]Tracker, error) {
	if f.Status != "" && !f.Status.valid() {
		return nil, &ValidationError{Fields: map[string]string{"status": "must be one of " + statusList()}}
	}
	limit := f.Limit
	switch {
	case limit < 0:
		return nil, &ValidationError{Fields: map[string]string{"limit": "must be positive"}}
	case limit == 0:
		limit = DefaultListLimit
	case limit > s.cfg.MaxListLimit:
		limit = s.cfg.MaxListLimit
	}

	all, err := s.allTrackers(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]Tracker, 0, min(limit, len(all)))
	for _, t := range all {
		if f.Category != "" && t.Category != f.Category {
			continue
		}
		if f.UserID != "" && t.UserID != f.UserID {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		out = append(out, t.Snapshot(now))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Delete removes the tracker identified by id.
func (s *Service) Delete(ctx context.Context, id string) error {
	t, err := s.loadTracker(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, trackerPrefix+id); err != nil {
		return s.unavailable("delete tracker", err)
	}
	n := trackerNotification(progress.KindDeleted, t)
	n.TS = s.now()
	s.emitter.Emit(n)
	return nil
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC()
}

func (s *Service) loadTracker(ctx context.Context, id string) (Tracker, error) {
	if strings.TrimSpace(id) == "" {
		return Tracker{}, ErrNotFound
	}
	var t Tracker
	if err := s.load(ctx, trackerPrefix+id, &t); err != nil {
		if isStoreNotFound(err) {
			return Tracker{}, ErrNotFound
		}
		return Tracker{}, err
	}
	return t, nil
}

func (s *Service) saveTracker(ctx context.Context, t Tracker) error {
	return s.save(ctx, trackerPrefix+t.ID, t)
}

// allTrackers reads every live tracker. Keys that expire between the scan
// and the read are skipped.
func (s *Service) allTrackers(ctx context.Context) ([]Tracker, error) {
	keys, err := s.store.Scan(ctx, trackerPrefix)
	if err != nil {
		return nil, s.unavailable("scan trackers", err)
	}
	out := make([]Tracker, 0, len(keys))
	for _, key := range keys {
		var t Tracker
		if err := s.load(ctx, key, &t); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *Service) load(ctx context.Context, key string, dst any) error {
	raw, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return err
		}
		return s.unavailable("read "+key, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (s *Service) save(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.store.Put(ctx, key, raw, s.cfg.TTL); err != nil {
		return s.unavailable("write "+key, err)
	}
	return nil
}

func isStoreNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

func (s *Service) unavailable(op string, err error) error {
	s.logger.Warn("tracker store call failed", zap.String("op", op), zap.Error(err))
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

func (s *Service) notifyTracker(kind progress.Kind, t Tracker) {
	s.emitter.Emit(trackerNotification(kind, t))
}

func trackerNotification(kind progress.Kind, t Tracker) progress.Notification {
	n := progress.Notification{
		TrackerID: t.ID,
		Kind:      kind,
		Status:    string(t.Status),
		Category:  t.Category,
		Terminal:  t.Terminal(),
		TS:        t.UpdatedAt,
		Snapshot:  t.Snapshot(t.UpdatedAt),
	}
	if finished := t.FinishedAt(); finished != nil {
		n.Dur = finished.Sub(t.StartedAt)
	}
	return n
}

func validateOperation(errs fieldErrors, field, op string) {
	switch trimmed := strings.TrimSpace(op); {
	case trimmed == "":
		errs.add(field, "is required")
	case utf8.RuneCountInString(op) > maxOperationLen:
		errs.add(field, "must be at most 100 characters")
	}
}

func validateDescription(errs fieldErrors, field, desc string) {
	if utf8.RuneCountInString(desc) > maxDescriptionLen {
		errs.add(field, "must be at most 500 characters")
	}
}
