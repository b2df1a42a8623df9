package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/relayhq/emlpipe/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS batches (
	batch_id       TEXT PRIMARY KEY,
	custom_label   TEXT NOT NULL DEFAULT '',
	kb_name        TEXT,
	upload_time    DATETIME NOT NULL,
	manifest       TEXT NOT NULL,
	cleaned        INTEGER NOT NULL DEFAULT 0,
	llm_processed  INTEGER NOT NULL DEFAULT 0,
	uploaded_to_kb INTEGER NOT NULL DEFAULT 0,
	dedup_stats    TEXT,
	history        TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS dedup_index (
	fingerprint  TEXT PRIMARY KEY,
	batch_id     TEXT NOT NULL,
	file_name    TEXT NOT NULL,
	processed_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_batches_upload_time ON batches(upload_time);
CREATE INDEX IF NOT EXISTS idx_dedup_index_batch_id ON dedup_index(batch_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateBatch(ctx context.Context, b *model.Batch) error {
	manifestJSON, historyJSON, statsJSON, err := marshalBatch(b)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal batch")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO batches (batch_id, custom_label, kb_name, upload_time, manifest, cleaned, llm_processed, uploaded_to_kb, dedup_stats, history)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.CustomLabel, nullIfEmpty(b.KBName), b.UploadTime.UTC(), manifestJSON,
		b.Status.Cleaned, b.Status.LLMProcessed, b.Status.UploadedToKB, nullIfEmpty(statsJSON), historyJSON,
	)
	return eris.Wrapf(err, "sqlite: insert batch %s", b.ID)
}

func (s *SQLiteStore) GetBatch(ctx context.Context, batchID string) (*model.Batch, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT batch_id, custom_label, kb_name, upload_time, manifest, cleaned, llm_processed, uploaded_to_kb, dedup_stats, history
		 FROM batches WHERE batch_id = ?`,
		batchID,
	)
	return scanBatch(row)
}

func (s *SQLiteStore) ListBatches(ctx context.Context) ([]model.Batch, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT batch_id, custom_label, kb_name, upload_time, manifest, cleaned, llm_processed, uploaded_to_kb, dedup_stats, history
		 FROM batches ORDER BY upload_time DESC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list batches")
	}
	defer rows.Close()

	var batches []model.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, *b)
	}
	return batches, eris.Wrap(rows.Err(), "sqlite: list batches iterate")
}

var stageColumns = map[model.Stage]string{
	model.StageCleaned:      "cleaned",
	model.StageLLMProcessed: "llm_processed",
	model.StageUploadedToKB: "uploaded_to_kb",
}

func (s *SQLiteStore) SetStageDone(ctx context.Context, batchID string, stage model.Stage, at time.Time) error {
	col, ok := stageColumns[stage]
	if !ok {
		return eris.Errorf("sqlite: unknown stage %q", stage)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE batches SET `+col+` = 1, history = json_set(history, '$."`+string(stage)+`"', ?) WHERE batch_id = ?`,
		at.UTC().Format(time.RFC3339), batchID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set stage %s on %s", stage, batchID)
	}
	return checkRowsAffected(res, batchID)
}

func (s *SQLiteStore) SetDedupStats(ctx context.Context, batchID string, stats model.DedupStats) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal dedup stats")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE batches SET dedup_stats = ? WHERE batch_id = ?`,
		string(statsJSON), batchID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set dedup stats %s", batchID)
	}
	return checkRowsAffected(res, batchID)
}

func (s *SQLiteStore) UpdateLabel(ctx context.Context, batchID, label string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE batches SET custom_label = ? WHERE batch_id = ?`,
		label, batchID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update label %s", batchID)
	}
	return checkRowsAffected(res, batchID)
}

func (s *SQLiteStore) UpdateKBName(ctx context.Context, batchID, kbName string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE batches SET kb_name = ? WHERE batch_id = ?`,
		nullIfEmpty(kbName), batchID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update kb name %s", batchID)
	}
	return checkRowsAffected(res, batchID)
}

func (s *SQLiteStore) ResetBatch(ctx context.Context, batchID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE batches SET cleaned = 0, llm_processed = 0, uploaded_to_kb = 0, dedup_stats = NULL, kb_name = NULL
		 WHERE batch_id = ?`,
		batchID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: reset batch %s", batchID)
	}
	return checkRowsAffected(res, batchID)
}

func (s *SQLiteStore) DeleteBatch(ctx context.Context, batchID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM batches WHERE batch_id = ?`,
		batchID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete batch %s", batchID)
	}
	return checkRowsAffected(res, batchID)
}

func (s *SQLiteStore) ClaimFingerprint(ctx context.Context, fingerprint, batchID, fileName string, at time.Time) (bool, *model.DuplicateOwner, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup_index (fingerprint, batch_id, file_name, processed_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (fingerprint) DO NOTHING`,
		fingerprint, batchID, fileName, at.UTC(),
	)
	if err != nil {
		return false, nil, eris.Wrap(err, "sqlite: claim fingerprint")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, nil, eris.Wrap(err, "sqlite: claim rows affected")
	}
	if n > 0 {
		return true, nil, nil
	}

	owner, err := s.LookupFingerprint(ctx, fingerprint)
	if err != nil {
		return false, nil, err
	}
	return false, owner, nil
}

func (s *SQLiteStore) LookupFingerprint(ctx context.Context, fingerprint string) (*model.DuplicateOwner, error) {
	var o model.DuplicateOwner
	err := s.db.QueryRowContext(ctx,
		`SELECT fingerprint, batch_id, file_name, processed_at FROM dedup_index WHERE fingerprint = ?`,
		fingerprint,
	).Scan(&o.Fingerprint, &o.BatchID, &o.FileName, &o.ProcessedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: lookup fingerprint")
	}
	return &o, nil
}

func (s *SQLiteStore) ReleaseFingerprints(ctx context.Context, batchID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM dedup_index WHERE batch_id = ?`,
		batchID,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: release fingerprints %s", batchID)
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

// helpers

func checkRowsAffected(res sql.Result, batchID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrBatchNotFound, "%s", batchID)
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func marshalBatch(b *model.Batch) (manifest, history, stats string, err error) {
	m, err := json.Marshal(b.Manifest)
	if err != nil {
		return "", "", "", err
	}
	if b.History == nil {
		b.History = map[model.Stage]time.Time{}
	}
	h, err := json.Marshal(b.History)
	if err != nil {
		return "", "", "", err
	}
	stats = ""
	if b.DedupStats != nil {
		sj, err := json.Marshal(b.DedupStats)
		if err != nil {
			return "", "", "", err
		}
		stats = string(sj)
	}
	return string(m), string(h), stats, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanBatch(row scannable) (*model.Batch, error) {
	var b model.Batch
	var kbName sql.NullString
	var manifestJSON, historyJSON string
	var statsJSON sql.NullString

	err := row.Scan(&b.ID, &b.CustomLabel, &kbName, &b.UploadTime, &manifestJSON,
		&b.Status.Cleaned, &b.Status.LLMProcessed, &b.Status.UploadedToKB, &statsJSON, &historyJSON)
	if err == sql.ErrNoRows {
		return nil, ErrBatchNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan batch")
	}
	b.Status.Uploaded = true

	if kbName.Valid {
		b.KBName = kbName.String
	}
	if err := json.Unmarshal([]byte(manifestJSON), &b.Manifest); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal manifest")
	}
	if err := json.Unmarshal([]byte(historyJSON), &b.History); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal history")
	}
	if statsJSON.Valid && statsJSON.String != "" {
		b.DedupStats = &model.DedupStats{}
		if err := json.Unmarshal([]byte(statsJSON.String), b.DedupStats); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal dedup stats")
		}
	}
	return &b, nil
}
