package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/CoolE88/threat-sentry/internal/config"
	"github.com/CoolE88/threat-sentry/internal/domain"
	"github.com/CoolE88/threat-sentry/internal/metrics"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Schema журнал снапшотов; payload хранит снапшот целиком
const Schema = `
CREATE TABLE IF NOT EXISTS threat_snapshots (
    session_id UUID NOT NULL,
    sequence BIGINT NOT NULL,
    composite DOUBLE PRECISION NOT NULL,
    risk_band TEXT NOT NULL,
    payload JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (session_id, sequence)
);
CREATE INDEX IF NOT EXISTS idx_threat_snapshots_created_at
    ON threat_snapshots(created_at);
`

type PostgresRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewPostgresRepository(ctx context.Context, dbConfig config.DBConfig, logger *zap.Logger) (*PostgresRepository, error) {
	// Конфигурация пула
	poolConfig, err := pgxpool.ParseConfig(dbConfig.DBSource)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	poolConfig.MaxConns = int32(dbConfig.MaxDBConnections)
	poolConfig.MinConns = int32(dbConfig.MinDBConnections)
	poolConfig.MaxConnLifetime = dbConfig.MaxConnLifetime
	poolConfig.MaxConnIdleTime = dbConfig.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, Schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	// Запуск горутины для мониторинга соединений
	go monitorConnections(ctx, pool, logger)

	return &PostgresRepository{
		pool:   pool,
		logger: logger,
	}, nil
}

// monitorConnections периодически обновляет метрики соединений и завершается при отмене ctx
func monitorConnections(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Stopping monitorConnections goroutine due to context cancellation")
			return
		case <-ticker.C:
			stats := pool.Stat()
			metrics.DBActiveConnections.Set(float64(stats.AcquiredConns()))
			metrics.DBIdleConnections.Set(float64(stats.IdleConns()))

			logger.Debug("Database connection stats",
				zap.Int("acquired", int(stats.AcquiredConns())),
				zap.Int("idle", int(stats.IdleConns())),
				zap.Int("max", int(stats.MaxConns())),
			)
		}
	}
}

func (r *PostgresRepository) SaveSnapshot(ctx context.Context, rec *domain.SnapshotRecord) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	start := time.Now()
	defer func() {
		metrics.DBQueryDuration.WithLabelValues("save_snapshot").Observe(time.Since(start).Seconds())
	}()

	query := `INSERT INTO threat_snapshots (session_id, sequence, composite, risk_band, payload, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (session_id, sequence) DO NOTHING RETURNING session_id`

	var inserted uuid.UUID
	err := r.pool.QueryRow(ctx, query,
		rec.SessionID,
		int64(rec.Sequence),
		rec.Composite,
		string(rec.Band),
		rec.Snapshot,
		rec.CreatedAt,
	).Scan(&inserted)

	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	if errors.Is(err, pgx.ErrNoRows) {
		r.logger.Debug("duplicate snapshot ignored",
			zap.String("session_id", rec.SessionID.String()),
			zap.Uint64("sequence", rec.Sequence))
	}

	return nil
}

// GetSnapshotBySequence возвращает (nil, nil), если записи нет
func (r *PostgresRepository) GetSnapshotBySequence(ctx context.Context, sessionID uuid.UUID, sequence uint64) (*domain.SnapshotRecord, error) {
	start := time.Now()
	defer func() {
		metrics.DBQueryDuration.WithLabelValues("get_snapshot_by_sequence").Observe(time.Since(start).Seconds())
	}()

	query := `SELECT session_id, sequence, composite, risk_band, payload, created_at
FROM threat_snapshots WHERE session_id = $1 AND sequence = $2`

	rec, err := scanRecord(r.pool.QueryRow(ctx, query, sessionID, int64(sequence)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	return rec, nil
}

func (r *PostgresRepository) GetSnapshotsByTimeRange(ctx context.Context, start, end time.Time) ([]*domain.SnapshotRecord, error) {
	startTime := time.Now()
	defer func() {
		metrics.DBQueryDuration.WithLabelValues("get_snapshots_by_time_range").Observe(time.Since(startTime).Seconds())
	}()

	query := `SELECT session_id, sequence, composite, risk_band, payload, created_at
FROM threat_snapshots WHERE created_at >= $1 AND created_at < $2 ORDER BY created_at, sequence`

	rows, err := r.pool.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var results []*domain.SnapshotRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		results = append(results, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return results, nil
}

func scanRecord(row pgx.Row) (*domain.SnapshotRecord, error) {
	var rec domain.SnapshotRecord
	var seq int64
	var band string
	err := row.Scan(
		&rec.SessionID,
		&seq,
		&rec.Composite,
		&band,
		&rec.Snapshot,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Sequence = uint64(seq)
	rec.Band = domain.RiskBand(band)
	return &rec, nil
}

func (r *PostgresRepository) HealthCheck(ctx context.Context) error {
	start := time.Now()
	defer func() {
		duration := time.Since(start).Seconds()
		metrics.DBQueryDuration.WithLabelValues("health_check").Observe(duration)
	}()

	return r.pool.Ping(ctx)
}

func (r *PostgresRepository) Close() {
	if r.pool != nil {
		r.pool.Close()
	}
}
