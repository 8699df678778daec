package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/larkpull/larkpull/internal/domain"
)

func (s *PersistentStore) SaveBatch(b *domain.Batch) error {
	query := `INSERT OR REPLACE INTO batches (id, table_id, status, output_dir, total, completed, started_at, finished_at, error)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.Exec(query,
		b.ID,
		b.TableID,
		b.Status,
		b.OutputDir,
		b.Total,
		b.Completed.Load(),
		nullableTime(b.StartedAt),
		nullableTime(b.FinishedAt),
		b.Error,
	)
	return err
}

func (s *PersistentStore) GetBatches() ([]*domain.Batch, error) {
	rows, err := s.db.Query(`SELECT id, table_id, status, output_dir, total, completed, started_at, finished_at, error
                             FROM batches ORDER BY started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batches []*domain.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func (s *PersistentStore) GetBatch(id string) (*domain.Batch, error) {
	row := s.db.QueryRow(`SELECT id, table_id, status, output_dir, total, completed, started_at, finished_at, error
                          FROM batches WHERE id = ?`, id)

	b, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("batch %s not found", id)
	}
	return b, err
}

// SaveResults stores the per-asset outcomes of a finished batch in one
// transaction.
func (s *PersistentStore) SaveResults(batchID string, results []domain.Result) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO results
        (batch_id, record_id, field_name, idx, product_id, file_token, file_name, success, local_path, error_kind, error_message, bytes_written, attempts)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range results {
		_, err := stmt.Exec(
			batchID,
			r.Asset.RecordID,
			r.Asset.FieldName,
			r.Asset.Index,
			r.Asset.ProductID,
			r.Asset.FileToken,
			r.Asset.FileName,
			r.Success,
			r.LocalPath,
			string(r.Kind),
			r.Message,
			r.BytesWritten,
			r.Attempts,
		)
		if err != nil {
			return fmt.Errorf("failed to save result %s: %w", r.Asset.Key(), err)
		}
	}

	return tx.Commit()
}

func (s *PersistentStore) GetResults(batchID string) ([]domain.Result, error) {
	rows, err := s.db.Query(`SELECT record_id, field_name, idx, product_id, file_token, file_name, success, local_path, error_kind, error_message, bytes_written, attempts
                             FROM results WHERE batch_id = ? ORDER BY record_id, field_name, idx`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.Result
	for rows.Next() {
		var r domain.Result
		var kind string

		err := rows.Scan(
			&r.Asset.RecordID,
			&r.Asset.FieldName,
			&r.Asset.Index,
			&r.Asset.ProductID,
			&r.Asset.FileToken,
			&r.Asset.FileName,
			&r.Success,
			&r.LocalPath,
			&kind,
			&r.Message,
			&r.BytesWritten,
			&r.Attempts,
		)
		if err != nil {
			return nil, err
		}
		r.Kind = domain.ErrorKind(kind)
		results = append(results, r)
	}
	return results, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(row rowScanner) (*domain.Batch, error) {
	b := &domain.Batch{}
	var completed int64
	var startedAt, finishedAt sql.NullTime

	err := row.Scan(&b.ID, &b.TableID, &b.Status, &b.OutputDir, &b.Total, &completed, &startedAt, &finishedAt, &b.Error)
	if err != nil {
		return nil, err
	}

	b.Completed.Store(completed)
	if startedAt.Valid {
		b.StartedAt = startedAt.Time
	}
	if finishedAt.Valid {
		b.FinishedAt = finishedAt.Time
	}
	return b, nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
