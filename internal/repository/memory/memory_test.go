package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/CoolE88/threat-sentry/internal/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(session uuid.UUID, seq uint64, at time.Time) *domain.SnapshotRecord {
	return domain.NewSnapshotRecord(domain.ThreatSnapshot{
		SessionID: session,
		Sequence:  seq,
		Composite: float64(seq),
		Band:      domain.BandFor(float64(seq)),
		Channels:  []domain.ChannelState{{Channel: domain.ChannelAudio, Status: domain.StatusActive, Score: float64(seq)}},
		CreatedAt: at,
	})
}

func TestRepository_SaveAndGet(t *testing.T) {
	repo, err := NewRepository(10)
	require.NoError(t, err)
	ctx := context.Background()

	session := uuid.New()
	now := time.Now()
	require.NoError(t, repo.SaveSnapshot(ctx, record(session, 1, now)))

	got, err := repo.GetSnapshotBySequence(ctx, session, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, session, got.SessionID)
	assert.Equal(t, uint64(1), got.Sequence)
	assert.Equal(t, 1.0, got.Snapshot.Composite)

	missing, err := repo.GetSnapshotBySequence(ctx, session, 2)
	require.NoError(t, err)
	assert.Nil(t, missing)

	missing, err = repo.GetSnapshotBySequence(ctx, uuid.New(), 1)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRepository_DuplicateIgnored(t *testing.T) {
	repo, err := NewRepository(10)
	require.NoError(t, err)
	ctx := context.Background()

	session := uuid.New()
	first := record(session, 1, time.Now())
	require.NoError(t, repo.SaveSnapshot(ctx, first))

	dup := record(session, 1, time.Now())
	dup.Composite = 99
	require.NoError(t, repo.SaveSnapshot(ctx, dup))

	assert.Equal(t, 1, repo.Len())
	got, _ := repo.GetSnapshotBySequence(ctx, session, 1)
	assert.Equal(t, 1.0, got.Composite)
}

func TestRepository_EvictsOldest(t *testing.T) {
	repo, err := NewRepository(2)
	require.NoError(t, err)
	ctx := context.Background()

	session := uuid.New()
	now := time.Now()
	for seq := uint64(1); seq <= 3; seq++ {
		require.NoError(t, repo.SaveSnapshot(ctx, record(session, seq, now.Add(time.Duration(seq)*time.Second))))
	}

	assert.Equal(t, 2, repo.Len())
	evicted, _ := repo.GetSnapshotBySequence(ctx, session, 1)
	assert.Nil(t, evicted)
	kept, _ := repo.GetSnapshotBySequence(ctx, session, 3)
	assert.NotNil(t, kept)
}

func TestRepository_TimeRange(t *testing.T) {
	repo, err := NewRepository(10)
	require.NoError(t, err)
	ctx := context.Background()

	session := uuid.New()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	for seq := uint64(1); seq <= 5; seq++ {
		require.NoError(t, repo.SaveSnapshot(ctx, record(session, seq, base.Add(time.Duration(seq)*time.Minute))))
	}

	// [12:02, 12:04) - полуоткрытый интервал
	got, err := repo.GetSnapshotsByTimeRange(ctx, base.Add(2*time.Minute), base.Add(4*time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(2), got[0].Sequence)
	assert.Equal(t, uint64(3), got[1].Sequence)

	none, err := repo.GetSnapshotsByTimeRange(ctx, base.Add(time.Hour), base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRepository_ReturnsCopies(t *testing.T) {
	repo, err := NewRepository(10)
	require.NoError(t, err)
	ctx := context.Background()

	session := uuid.New()
	rec := record(session, 1, time.Now())
	require.NoError(t, repo.SaveSnapshot(ctx, rec))
	rec.Snapshot.Channels[0].Score = 50

	got, _ := repo.GetSnapshotBySequence(ctx, session, 1)
	got.Snapshot.Channels[0].Score = 70

	again, _ := repo.GetSnapshotBySequence(ctx, session, 1)
	assert.Equal(t, 1.0, again.Snapshot.Channels[0].Score)
}

func TestRepository_Context(t *testing.T) {
	repo, err := NewRepository(1)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, repo.SaveSnapshot(ctx, record(uuid.New(), 1, time.Now())), context.Canceled)
	assert.ErrorIs(t, repo.HealthCheck(ctx), context.Canceled)
	assert.NoError(t, repo.HealthCheck(context.Background()))
}

func TestNewRepository_InvalidCapacity(t *testing.T) {
	_, err := NewRepository(0)
	assert.True(t, errors.Is(err, domain.ErrConfiguration))
}
