package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/relayhq/emlpipe/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot-path store operations.
var preparedStatements = map[string]string{
	"get_batch":          `SELECT batch_id, custom_label, kb_name, upload_time, manifest, cleaned, llm_processed, uploaded_to_kb, dedup_stats, history FROM batches WHERE batch_id = $1`,
	"claim_fingerprint":  `INSERT INTO dedup_index (fingerprint, batch_id, file_name, processed_at) VALUES ($1, $2, $3, $4) ON CONFLICT (fingerprint) DO NOTHING`,
	"lookup_fingerprint": `SELECT fingerprint, batch_id, file_name, processed_at FROM dedup_index WHERE fingerprint = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS batches (
	batch_id       TEXT PRIMARY KEY,
	custom_label   TEXT NOT NULL DEFAULT '',
	kb_name        TEXT,
	upload_time    TIMESTAMPTZ NOT NULL,
	manifest       JSONB NOT NULL,
	cleaned        BOOLEAN NOT NULL DEFAULT false,
	llm_processed  BOOLEAN NOT NULL DEFAULT false,
	uploaded_to_kb BOOLEAN NOT NULL DEFAULT false,
	dedup_stats    JSONB,
	history        JSONB NOT NULL DEFAULT '{}'::jsonb
);

CREATE TABLE IF NOT EXISTS dedup_index (
	fingerprint  TEXT PRIMARY KEY,
	batch_id     TEXT NOT NULL,
	file_name    TEXT NOT NULL,
	processed_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_batches_upload_time ON batches(upload_time DESC);
CREATE INDEX IF NOT EXISTS idx_dedup_index_batch_id ON dedup_index(batch_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateBatch(ctx context.Context, b *model.Batch) error {
	manifestJSON, historyJSON, statsJSON, err := marshalBatch(b)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal batch")
	}

	var stats any
	if statsJSON != "" {
		stats = []byte(statsJSON)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO batches (batch_id, custom_label, kb_name, upload_time, manifest, cleaned, llm_processed, uploaded_to_kb, dedup_stats, history)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		b.ID, b.CustomLabel, nullIfEmpty(b.KBName), b.UploadTime.UTC(), []byte(manifestJSON),
		b.Status.Cleaned, b.Status.LLMProcessed, b.Status.UploadedToKB, stats, []byte(historyJSON),
	)
	return eris.Wrapf(err, "postgres: insert batch %s", b.ID)
}

func (s *PostgresStore) GetBatch(ctx context.Context, batchID string) (*model.Batch, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT batch_id, custom_label, kb_name, upload_time, manifest, cleaned, llm_processed, uploaded_to_kb, dedup_stats, history
		 FROM batches WHERE batch_id = $1`,
		batchID,
	)
	b, err := scanBatchPg(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBatchNotFound
		}
		return nil, eris.Wrapf(err, "postgres: get batch %s", batchID)
	}
	return b, nil
}

func (s *PostgresStore) ListBatches(ctx context.Context) ([]model.Batch, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT batch_id, custom_label, kb_name, upload_time, manifest, cleaned, llm_processed, uploaded_to_kb, dedup_stats, history
		 FROM batches ORDER BY upload_time DESC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list batches")
	}
	defer rows.Close()

	var batches []model.Batch
	for rows.Next() {
		b, err := scanBatchPg(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan batch")
		}
		batches = append(batches, *b)
	}
	return batches, eris.Wrap(rows.Err(), "postgres: list batches iterate")
}

func (s *PostgresStore) SetStageDone(ctx context.Context, batchID string, stage model.Stage, at time.Time) error {
	col, ok := stageColumns[stage]
	if !ok {
		return eris.Errorf("postgres: unknown stage %q", stage)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE batches SET `+col+` = true, history = jsonb_set(history, $1, to_jsonb($2::text)) WHERE batch_id = $3`,
		[]string{string(stage)}, at.UTC().Format(time.RFC3339), batchID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set stage %s on %s", stage, batchID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrBatchNotFound, "%s", batchID)
	}
	return nil
}

func (s *PostgresStore) SetDedupStats(ctx context.Context, batchID string, stats model.DedupStats) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal dedup stats")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE batches SET dedup_stats = $1 WHERE batch_id = $2`,
		statsJSON, batchID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set dedup stats %s", batchID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrBatchNotFound, "%s", batchID)
	}
	return nil
}

func (s *PostgresStore) UpdateLabel(ctx context.Context, batchID, label string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE batches SET custom_label = $1 WHERE batch_id = $2`,
		label, batchID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update label %s", batchID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrBatchNotFound, "%s", batchID)
	}
	return nil
}

func (s *PostgresStore) UpdateKBName(ctx context.Context, batchID, kbName string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE batches SET kb_name = $1 WHERE batch_id = $2`,
		nullIfEmpty(kbName), batchID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update kb name %s", batchID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrBatchNotFound, "%s", batchID)
	}
	return nil
}

func (s *PostgresStore) ResetBatch(ctx context.Context, batchID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE batches SET cleaned = false, llm_processed = false, uploaded_to_kb = false, dedup_stats = NULL, kb_name = NULL
		 WHERE batch_id = $1`,
		batchID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: reset batch %s", batchID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrBatchNotFound, "%s", batchID)
	}
	return nil
}

func (s *PostgresStore) DeleteBatch(ctx context.Context, batchID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM batches WHERE batch_id = $1`,
		batchID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete batch %s", batchID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrBatchNotFound, "%s", batchID)
	}
	return nil
}

func (s *PostgresStore) ClaimFingerprint(ctx context.Context, fingerprint, batchID, fileName string, at time.Time) (bool, *model.DuplicateOwner, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO dedup_index (fingerprint, batch_id, file_name, processed_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (fingerprint) DO NOTHING`,
		fingerprint, batchID, fileName, at.UTC(),
	)
	if err != nil {
		return false, nil, eris.Wrap(err, "postgres: claim fingerprint")
	}
	if tag.RowsAffected() > 0 {
		return true, nil, nil
	}

	owner, err := s.LookupFingerprint(ctx, fingerprint)
	if err != nil {
		return false, nil, err
	}
	return false, owner, nil
}

func (s *PostgresStore) LookupFingerprint(ctx context.Context, fingerprint string) (*model.DuplicateOwner, error) {
	var o model.DuplicateOwner
	err := s.pool.QueryRow(ctx,
		`SELECT fingerprint, batch_id, file_name, processed_at FROM dedup_index WHERE fingerprint = $1`,
		fingerprint,
	).Scan(&o.Fingerprint, &o.BatchID, &o.FileName, &o.ProcessedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: lookup fingerprint")
	}
	return &o, nil
}

func (s *PostgresStore) ReleaseFingerprints(ctx context.Context, batchID string) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM dedup_index WHERE batch_id = $1`,
		batchID,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: release fingerprints %s", batchID)
	}
	return int(tag.RowsAffected()), nil
}

func scanBatchPg(row pgx.Row) (*model.Batch, error) {
	var b model.Batch
	var kbName *string
	var manifestJSON, historyJSON []byte
	var statsJSON *[]byte

	err := row.Scan(&b.ID, &b.CustomLabel, &kbName, &b.UploadTime, &manifestJSON,
		&b.Status.Cleaned, &b.Status.LLMProcessed, &b.Status.UploadedToKB, &statsJSON, &historyJSON)
	if err != nil {
		return nil, err
	}
	b.Status.Uploaded = true

	if kbName != nil {
		b.KBName = *kbName
	}
	if err := json.Unmarshal(manifestJSON, &b.Manifest); err != nil {
		return nil, eris.Wrap(err, "unmarshal manifest")
	}
	if err := json.Unmarshal(historyJSON, &b.History); err != nil {
		return nil, eris.Wrap(err, "unmarshal history")
	}
	if statsJSON != nil {
		b.DedupStats = &model.DedupStats{}
		if err := json.Unmarshal(*statsJSON, b.DedupStats); err != nil {
			return nil, eris.Wrap(err, "unmarshal dedup stats")
		}
	}
	return &b, nil
}
