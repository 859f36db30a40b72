package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/mender/internal/core/domain"
	"github.com/vietddude/mender/internal/infra/storage"
)

// MemoryStorage is the shared in-memory backing store. Used in dev mode and
// throughout the test suite.
type MemoryStorage struct {
	patterns     map[string]*domain.FailurePattern // keyed by id
	signatures   map[string]string                 // workspace_id+signature -> id
	attempts     map[string]*domain.RecoveryAttempt
	explanations map[string]*domain.RecoveryExplanation // keyed by attempt_id
	metrics      map[string]*domain.WorkspaceRecoveryMetrics
	mu           sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		patterns:     make(map[string]*domain.FailurePattern),
		signatures:   make(map[string]string),
		attempts:     make(map[string]*domain.RecoveryAttempt),
		explanations: make(map[string]*domain.RecoveryExplanation),
		metrics:      make(map[string]*domain.WorkspaceRecoveryMetrics),
	}
}

func sigKey(workspaceID, signature string) string {
	return workspaceID + ":" + signature
}

func clonePattern(p *domain.FailurePattern) *domain.FailurePattern {
	cp := *p
	return &cp
}

func cloneAttempt(a *domain.RecoveryAttempt) *domain.RecoveryAttempt {
	ca := *a
	if a.CompletedAt != nil {
		t := *a.CompletedAt
		ca.CompletedAt = &t
	}
	if a.Success != nil {
		s := *a.Success
		ca.Success = &s
	}
	if a.NextRetryAt != nil {
		t := *a.NextRetryAt
		ca.NextRetryAt = &t
	}
	return &ca
}

// -----------------------------------------------------------------------------
// Pattern Repository
// -----------------------------------------------------------------------------

type PatternRepo struct {
	store *MemoryStorage
}

func NewPatternRepo(store *MemoryStorage) *PatternRepo {
	return &PatternRepo{store: store}
}

func (r *PatternRepo) Create(ctx context.Context, p *domain.FailurePattern) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	key := sigKey(p.WorkspaceID, p.Signature)
	if _, ok := r.store.signatures[key]; ok {
		return storage.ErrDuplicateSignature
	}
	r.store.signatures[key] = p.ID
	r.store.patterns[p.ID] = clonePattern(p)
	return nil
}

func (r *PatternRepo) GetBySignature(ctx context.Context, workspaceID, signature string) (*domain.FailurePattern, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	id, ok := r.store.signatures[sigKey(workspaceID, signature)]
	if !ok {
		return nil, storage.ErrPatternNotFound
	}
	return clonePattern(r.store.patterns[id]), nil
}

func (r *PatternRepo) GetByID(ctx context.Context, id string) (*domain.FailurePattern, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	p, ok := r.store.patterns[id]
	if !ok {
		return nil, storage.ErrPatternNotFound
	}
	return clonePattern(p), nil
}

func (r *PatternRepo) RecordMatch(ctx context.Context, id string, lastDetectedAt time.Time, confidence float64, isTransient bool) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	p, ok := r.store.patterns[id]
	if !ok {
		return storage.ErrPatternNotFound
	}
	p.OccurrenceCount++
	p.LastDetectedAt = lastDetectedAt
	p.ConfidenceScore = confidence
	p.IsTransient = isTransient
	return nil
}

func (r *PatternRepo) ResetConfidence(ctx context.Context, id string, confidence float64) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	p, ok := r.store.patterns[id]
	if !ok {
		return storage.ErrPatternNotFound
	}
	p.ConfidenceScore = confidence
	return nil
}

func (r *PatternRepo) ListByWorkspace(ctx context.Context, workspaceID string) ([]*domain.FailurePattern, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.FailurePattern
	for _, p := range r.store.patterns {
		if p.WorkspaceID == workspaceID {
			out = append(out, clonePattern(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastDetectedAt.After(out[j].LastDetectedAt)
	})
	return out, nil
}

func (r *PatternRepo) Count(ctx context.Context, workspaceID string) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	count := 0
	for _, p := range r.store.patterns {
		if p.WorkspaceID == workspaceID {
			count++
		}
	}
	return count, nil
}

// -----------------------------------------------------------------------------
// Attempt Repository
// -----------------------------------------------------------------------------

type AttemptRepo struct {
	store *MemoryStorage
}

func NewAttemptRepo(store *MemoryStorage) *AttemptRepo {
	return &AttemptRepo{store: store}
}

func (r *AttemptRepo) Create(ctx context.Context, a *domain.RecoveryAttempt) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, existing := range r.store.attempts {
		if existing.TaskID == a.TaskID && existing.AttemptNumber == a.AttemptNumber {
			return storage.ErrDuplicateAttempt
		}
	}
	r.store.attempts[a.ID] = cloneAttempt(a)
	return nil
}

func (r *AttemptRepo) Update(ctx context.Context, a *domain.RecoveryAttempt) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.attempts[a.ID]; !ok {
		return storage.ErrAttemptNotFound
	}
	r.store.attempts[a.ID] = cloneAttempt(a)
	return nil
}

func (r *AttemptRepo) GetByID(ctx context.Context, id string) (*domain.RecoveryAttempt, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	a, ok := r.store.attempts[id]
	if !ok {
		return nil, storage.ErrAttemptNotFound
	}
	return cloneAttempt(a), nil
}

func (r *AttemptRepo) GetLatestByTask(ctx context.Context, taskID string) (*domain.RecoveryAttempt, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var latest *domain.RecoveryAttempt
	for _, a := range r.store.attempts {
		if a.TaskID != taskID {
			continue
		}
		if latest == nil || a.AttemptNumber > latest.AttemptNumber {
			latest = a
		}
	}
	if latest == nil {
		return nil, nil
	}
	return cloneAttempt(latest), nil
}

func (r *AttemptRepo) ListByTask(ctx context.Context, taskID string) ([]*domain.RecoveryAttempt, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.RecoveryAttempt
	for _, a := range r.store.attempts {
		if a.TaskID == taskID {
			out = append(out, cloneAttempt(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].AttemptNumber < out[j].AttemptNumber
	})
	return out, nil
}

func (r *AttemptRepo) ListEligibleRetrying(ctx context.Context, now time.Time, limit int) ([]*domain.RecoveryAttempt, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.RecoveryAttempt
	for _, a := range r.store.attempts {
		if a.Status != domain.AttemptStatusRetrying || a.CompletedAt != nil {
			continue
		}
		if a.NextRetryAt != nil && a.NextRetryAt.After(now) {
			continue
		}
		// Skip parked rows that already have a successor
		if r.hasSuccessorLocked(a) {
			continue
		}
		out = append(out, cloneAttempt(a))
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].StartedAt, out[j].StartedAt
		if out[i].NextRetryAt != nil {
			ti = *out[i].NextRetryAt
		}
		if out[j].NextRetryAt != nil {
			tj = *out[j].NextRetryAt
		}
		return ti.Before(tj)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *AttemptRepo) hasSuccessorLocked(a *domain.RecoveryAttempt) bool {
	for _, other := range r.store.attempts {
		if other.TaskID == a.TaskID && other.AttemptNumber > a.AttemptNumber {
			return true
		}
	}
	return false
}

func (r *AttemptRepo) ListStuckInFlight(ctx context.Context, cutoff time.Time) ([]*domain.RecoveryAttempt, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.RecoveryAttempt
	for _, a := range r.store.attempts {
		if a.Status.InFlight() && a.CompletedAt == nil && a.StartedAt.Before(cutoff) {
			out = append(out, cloneAttempt(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, nil
}

func (r *AttemptRepo) CountActive(ctx context.Context) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	count := 0
	for _, a := range r.store.attempts {
		if a.Status.InFlight() {
			count++
		}
	}
	return count, nil
}

// -----------------------------------------------------------------------------
// Explanation Repository
// -----------------------------------------------------------------------------

type ExplanationRepo struct {
	store *MemoryStorage
}

func NewExplanationRepo(store *MemoryStorage) *ExplanationRepo {
	return &ExplanationRepo{store: store}
}

func (r *ExplanationRepo) Create(ctx context.Context, e *domain.RecoveryExplanation) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	ce := *e
	r.store.explanations[e.AttemptID] = &ce
	return nil
}

func (r *ExplanationRepo) GetByAttempt(ctx context.Context, attemptID string) (*domain.RecoveryExplanation, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	e, ok := r.store.explanations[attemptID]
	if !ok {
		return nil, nil
	}
	ce := *e
	return &ce, nil
}

func (r *ExplanationRepo) ListByTask(ctx context.Context, taskID string) ([]*domain.RecoveryExplanation, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.RecoveryExplanation
	for _, e := range r.store.explanations {
		if e.TaskID == taskID {
			ce := *e
			out = append(out, &ce)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// -----------------------------------------------------------------------------
// Workspace Metrics Repository
// -----------------------------------------------------------------------------

type MetricsRepo struct {
	store *MemoryStorage
}

func NewMetricsRepo(store *MemoryStorage) *MetricsRepo {
	return &MetricsRepo{store: store}
}

func (r *MetricsRepo) RecordAttempt(ctx context.Context, workspaceID string, success bool, at time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	m := r.store.metrics[workspaceID]
	if m == nil {
		m = &domain.WorkspaceRecoveryMetrics{WorkspaceID: workspaceID}
		r.store.metrics[workspaceID] = m
	}
	m.TotalAttempts++
	if success {
		m.SuccessfulRecoveries++
	}
	m.LastRecoveryCheckAt = at
	return nil
}

func (r *MetricsRepo) TouchLastCheck(ctx context.Context, workspaceID string, at time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	m := r.store.metrics[workspaceID]
	if m == nil {
		m = &domain.WorkspaceRecoveryMetrics{WorkspaceID: workspaceID}
		r.store.metrics[workspaceID] = m
	}
	m.LastRecoveryCheckAt = at
	return nil
}

func (r *MetricsRepo) Get(ctx context.Context, workspaceID string) (*domain.WorkspaceRecoveryMetrics, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	m, ok := r.store.metrics[workspaceID]
	if !ok {
		return &domain.WorkspaceRecoveryMetrics{WorkspaceID: workspaceID}, nil
	}
	cm := *m
	return &cm, nil
}

// -----------------------------------------------------------------------------
// Terminal Writer
// -----------------------------------------------------------------------------

// TerminalWriter applies a terminal transition against the in-memory store.
// A single process mutates the store, so sequential writes are enough here.
type TerminalWriter struct {
	attempts     *AttemptRepo
	explanations *ExplanationRepo
	metrics      *MetricsRepo
}

func NewTerminalWriter(store *MemoryStorage) *TerminalWriter {
	return &TerminalWriter{
		attempts:     NewAttemptRepo(store),
		explanations: NewExplanationRepo(store),
		metrics:      NewMetricsRepo(store),
	}
}

func (w *TerminalWriter) RecordTerminal(ctx context.Context, a *domain.RecoveryAttempt, e *domain.RecoveryExplanation, at time.Time) error {
	if err := w.attempts.Update(ctx, a); err != nil {
		return err
	}
	if e != nil {
		if err := w.explanations.Create(ctx, e); err != nil {
			return err
		}
	}
	success := a.Success != nil && *a.Success
	return w.metrics.RecordAttempt(ctx, a.WorkspaceID, success, at)
}
