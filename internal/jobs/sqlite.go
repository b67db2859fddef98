package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteBackend はジョブレコードを SQLite に保存します。単一ノードで再起動後も状態を残す用途向けです。
type SQLiteBackend struct {
	db *sql.DB
}

// OpenSQLiteBackend はデータベースを開き、スキーマを初期化します。
func OpenSQLiteBackend(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// 書き込みは1接続に寄せて SQLITE_BUSY を避ける
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	b := &SQLiteBackend{db: db}
	if err := b.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return b, nil
}

func (b *SQLiteBackend) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		record TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
	CREATE INDEX IF NOT EXISTS idx_jobs_updated_at ON jobs(updated_at);
	`
	_, err := b.db.Exec(schema)
	return err
}

// Insert は新しいレコードを追加します。
func (b *SQLiteBackend) Insert(ctx context.Context, job *Job) error {
	var exists int
	err := b.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM jobs WHERE id = ?`, job.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("sqlite: check job: %w", err)
	}
	if exists > 0 {
		return errDuplicateID
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	_, err = b.db.ExecContext(ctx,
		`INSERT INTO jobs (id, status, record, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		job.ID, string(job.Status), string(payload), job.CreatedAt.UnixNano(), job.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert job: %w", err)
	}
	return nil
}

// Load はジョブ情報を取得します。
func (b *SQLiteBackend) Load(ctx context.Context, id string) (*Job, error) {
	var record string
	err := b.db.QueryRowContext(ctx, `SELECT record FROM jobs WHERE id = ?`, id).Scan(&record)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("sqlite: load job: %w", err)
	}
	return decodeJob([]byte(record))
}

// Update はトランザクション内で読み込み・書き換え・保存を行います。
func (b *SQLiteBackend) Update(ctx context.Context, id string, mutate MutateFunc) (*Job, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	var record string
	if err := tx.QueryRowContext(ctx, `SELECT record FROM jobs WHERE id = ?`, id).Scan(&record); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("sqlite: load job: %w", err)
	}
	job, err := decodeJob([]byte(record))
	if err != nil {
		return nil, err
	}
	if err := mutate(job); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE jobs SET status = ?, record = ?, updated_at = ? WHERE id = ?`,
		string(job.Status), string(payload), job.UpdatedAt.UnixNano(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: update job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: commit: %w", err)
	}
	return job, nil
}

// Delete はレコードを削除します。
func (b *SQLiteBackend) Delete(ctx context.Context, id string) error {
	res, err := b.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: delete job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// List は作成日時順に全レコードを返します。
func (b *SQLiteBackend) List(ctx context.Context) ([]*Job, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT record FROM jobs ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		var record string
		if err := rows.Scan(&record); err != nil {
			return nil, err
		}
		job, err := decodeJob([]byte(record))
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Close はデータベース接続を閉じます。
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
