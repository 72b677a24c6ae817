package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session-engine/internal/config"
	"github.com/stemsi/exstem-session-engine/internal/model"
)

// PollTimeout must be >= 1s to satisfy Redis.
const PollTimeout = 1 * time.Second

// AuditQueue pushes audit entries onto the Redis list drained by AuditWorker.
type AuditQueue struct {
	rdb *redis.Client
}

// NewAuditQueue creates a new AuditQueue.
func NewAuditQueue(rdb *redis.Client) *AuditQueue {
	return &AuditQueue{rdb: rdb}
}

// Enqueue appends one entry to the persistence queue.
func (q *AuditQueue) Enqueue(ctx context.Context, entry model.AuditEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return q.rdb.RPush(ctx, config.WorkerKey.PersistAuditQueue, data).Err()
}

// auditStore is the slice of *pgxpool.Pool the worker writes through.
type auditStore interface {
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

var auditColumns = []string{
	"kind", "submission_id", "session_id", "student_id", "violation_type", "details", "recorded_at",
}

// AuditWorker drains the audit queue into attempt_audit_log in batches.
type AuditWorker struct {
	db            auditStore
	rdb           *redis.Client
	batchSize     int
	flushInterval time.Duration
	log           zerolog.Logger
}

func NewAuditWorker(db auditStore, rdb *redis.Client, cfg *config.Config, log zerolog.Logger) *AuditWorker {
	batch := cfg.AuditBatchSize
	if batch <= 0 {
		batch = 50
	}
	return &AuditWorker{
		db:            db,
		rdb:           rdb,
		batchSize:     batch,
		flushInterval: cfg.AuditFlushInterval,
		log:           log.With().Str("component", "audit_worker").Logger(),
	}
}

// Start blocks until ctx is cancelled, flushing whatever is buffered on exit.
func (w *AuditWorker) Start(ctx context.Context) {
	w.log.Info().Int("batch_size", w.batchSize).Dur("flush_interval", w.flushInterval).Msg("AuditWorker started")

	buffer := make([]*model.AuditEntry, 0, w.batchSize)
	lastFlush := time.Now()

	for {
		if len(buffer) > 0 && (len(buffer) >= w.batchSize || time.Since(lastFlush) >= w.flushInterval) {
			w.flushSafe(ctx, buffer)
			buffer = buffer[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistAuditQueue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				w.shutdown(buffer)
				return
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			time.Sleep(3 * time.Second)
			continue
		}
		if len(result) < 2 {
			continue
		}

		var entry model.AuditEntry
		if err := json.Unmarshal([]byte(result[1]), &entry); err != nil {
			w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed audit entry")
			continue
		}
		buffer = append(buffer, &entry)
	}
}

// flushSafe tries one COPY, then row-by-row inserts, then requeues.
func (w *AuditWorker) flushSafe(ctx context.Context, batch []*model.AuditEntry) {
	if err := w.bulkInsert(ctx, batch); err != nil {
		w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")
		w.fallbackInsert(ctx, batch)
		return
	}
	w.log.Debug().Int("count", len(batch)).Msg("Audit batch persisted")
}

func auditDetails(e *model.AuditEntry) any {
	if len(e.Details) == 0 {
		return nil
	}
	return string(e.Details)
}

func (w *AuditWorker) bulkInsert(ctx context.Context, batch []*model.AuditEntry) error {
	rows := make([][]any, 0, len(batch))
	for _, e := range batch {
		// COPY is binary, so uuid columns need real UUIDs. A bad id fails
		// the batch and the fallback path sorts it out row by row.
		submissionID, err := uuid.Parse(e.SubmissionID)
		if err != nil {
			return err
		}
		sessionID, err := uuid.Parse(e.SessionID)
		if err != nil {
			return err
		}
		rows = append(rows, []any{
			e.Kind, submissionID, sessionID, e.StudentID, e.ViolationType, auditDetails(e), e.RecordedAt,
		})
	}
	_, err := w.db.CopyFrom(ctx, pgx.Identifier{"attempt_audit_log"}, auditColumns, pgx.CopyFromRows(rows))
	return err
}

func (w *AuditWorker) fallbackInsert(ctx context.Context, batch []*model.AuditEntry) {
	var requeue []*model.AuditEntry
	for _, e := range batch {
		_, err := w.db.Exec(ctx,
			`INSERT INTO attempt_audit_log
			 (kind, submission_id, session_id, student_id, violation_type, details, recorded_at)
			 VALUES ($1, $2::uuid, $3::uuid, $4, $5, $6::jsonb, $7)`,
			e.Kind, e.SubmissionID, e.SessionID, e.StudentID, e.ViolationType, auditDetails(e), e.RecordedAt,
		)
		if err == nil {
			continue
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			// The row itself is bad; retrying will not help.
			w.log.Error().Err(err).Str("submission_id", e.SubmissionID).Msg("Dropping unpersistable audit entry")
			continue
		}
		w.log.Error().Err(err).Str("submission_id", e.SubmissionID).Msg("Insert failed, requeueing")
		requeue = append(requeue, e)
	}

	if len(requeue) > 0 {
		w.requeue(ctx, requeue)
	}
}

func (w *AuditWorker) requeue(ctx context.Context, items []*model.AuditEntry) {
	pipe := w.rdb.Pipeline()
	for _, e := range items {
		data, _ := json.Marshal(e)
		pipe.RPush(ctx, config.WorkerKey.PersistAuditQueue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Int("count", len(items)).Msg("CRITICAL: Failed to requeue audit entries. Data loss occurred.")
		return
	}
	w.log.Info().Int("count", len(items)).Msg("Requeued failed audit entries")
	// Avoid thrashing while the database is down.
	time.Sleep(2 * time.Second)
}

func (w *AuditWorker) shutdown(buffer []*model.AuditEntry) {
	w.log.Info().Msg("AuditWorker stopping, flushing remaining buffer...")
	if len(buffer) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w.flushSafe(ctx, buffer)
}
