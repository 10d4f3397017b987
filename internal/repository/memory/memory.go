package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/CoolE88/threat-sentry/internal/domain"
	"github.com/CoolE88/threat-sentry/internal/metrics"

	"github.com/google/uuid"
)

type recordKey struct {
	session  uuid.UUID
	sequence uint64
}

// Repository ограниченный журнал снапшотов в памяти. При переполнении вытесняется самая старая запись.
type Repository struct {
	mu       sync.RWMutex
	capacity int
	records  []*domain.SnapshotRecord
	index    map[recordKey]*domain.SnapshotRecord
}

func NewRepository(capacity int) (*Repository, error) {
	if capacity <= 0 {
		return nil, domain.NewConfigError("journal_size", "must be positive")
	}
	return &Repository{
		capacity: capacity,
		index:    make(map[recordKey]*domain.SnapshotRecord),
	}, nil
}

func (r *Repository) SaveSnapshot(ctx context.Context, rec *domain.SnapshotRecord) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	start := time.Now()
	defer func() {
		metrics.DBQueryDuration.WithLabelValues("memory_save_snapshot").Observe(time.Since(start).Seconds())
	}()

	r.mu.Lock()
	defer r.mu.Unlock()

	key := recordKey{rec.SessionID, rec.Sequence}
	if _, ok := r.index[key]; ok {
		return nil
	}

	stored := *rec
	stored.Snapshot = rec.Snapshot.Clone()
	r.records = append(r.records, &stored)
	r.index[key] = &stored

	if len(r.records) > r.capacity {
		evicted := r.records[0]
		delete(r.index, recordKey{evicted.SessionID, evicted.Sequence})
		r.records[0] = nil
		r.records = r.records[1:]
	}
	return nil
}

// GetSnapshotBySequence возвращает (nil, nil), если записи нет
func (r *Repository) GetSnapshotBySequence(ctx context.Context, sessionID uuid.UUID, sequence uint64) (*domain.SnapshotRecord, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.index[recordKey{sessionID, sequence}]
	if !ok {
		return nil, nil
	}
	return copyRecord(rec), nil
}

// GetSnapshotsByTimeRange записи с created_at в [start, end)
func (r *Repository) GetSnapshotsByTimeRange(ctx context.Context, start, end time.Time) ([]*domain.SnapshotRecord, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*domain.SnapshotRecord
	for _, rec := range r.records {
		if !rec.CreatedAt.Before(start) && rec.CreatedAt.Before(end) {
			results = append(results, copyRecord(rec))
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].CreatedAt.Before(results[j].CreatedAt)
	})
	return results, nil
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	return ctx.Err()
}

func (r *Repository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

func (r *Repository) Close() {}

func copyRecord(rec *domain.SnapshotRecord) *domain.SnapshotRecord {
	out := *rec
	out.Snapshot = rec.Snapshot.Clone()
	return &out
}
