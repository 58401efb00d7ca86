package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"docsearch/internal/indexer"
)

// Record is one row of build history.
type Record struct {
	ID             string             `json:"id"`
	Trigger        string             `json:"trigger"`
	Rebuild        bool               `json:"rebuild"`
	State          string             `json:"state"`
	Success        bool               `json:"success"`
	Message        string             `json:"message,omitempty"`
	Error          string             `json:"error,omitempty"`
	TotalChunks    int                `json:"total_chunks"`
	PreviousChunks int                `json:"previous_chunks"`
	FilesProcessed []indexer.FileStat `json:"files_processed"`
	StartedAt      time.Time          `json:"started_at"`
	FinishedAt     *time.Time         `json:"finished_at,omitempty"`
}

type Repository interface {
	Start(ctx context.Context, b indexer.Build) error
	Finish(ctx context.Context, b indexer.Build) error
	List(ctx context.Context, limit int) ([]Record, error)
	Count(ctx context.Context) (int, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Start(ctx context.Context, b indexer.Build) error {
	query := `INSERT INTO index_builds (id, trigger, rebuild, state, started_at) VALUES ($1, $2, $3, $4, $5)`
	_, err := r.db.ExecContext(ctx, query, b.ID, b.Trigger, b.Rebuild, string(b.State), b.StartedAt)
	return err
}

func (r *PostgresRepo) Finish(ctx context.Context, b indexer.Build) error {
	var res indexer.BuildResult
	if b.Result != nil {
		res = *b.Result
	}
	files := res.FilesProcessed
	if files == nil {
		files = []indexer.FileStat{}
	}
	payload, err := json.Marshal(files)
	if err != nil {
		return err
	}

	query := `UPDATE index_builds SET state = $2, success = $3, message = $4, error = $5, total_chunks = $6, previous_chunks = $7, files_processed = $8, finished_at = $9 WHERE id = $1`
	_, err = r.db.ExecContext(ctx, query, b.ID, string(b.State), res.Success, res.Message, res.Error,
		res.TotalChunks, res.PreviousChunks, payload, b.FinishedAt)
	return err
}

func (r *PostgresRepo) List(ctx context.Context, limit int) ([]Record, error) {
	query := `SELECT id, trigger, rebuild, state, success, message, error, total_chunks, previous_chunks, files_processed, started_at, finished_at FROM index_builds ORDER BY started_at DESC LIMIT $1`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var rec Record
		var files []byte
		var finished sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.Trigger, &rec.Rebuild, &rec.State, &rec.Success, &rec.Message, &rec.Error,
			&rec.TotalChunks, &rec.PreviousChunks, &files, &rec.StartedAt, &finished); err != nil {
			return nil, err
		}
		rec.FilesProcessed = []indexer.FileStat{}
		if len(files) > 0 {
			if err := json.Unmarshal(files, &rec.FilesProcessed); err != nil {
				return nil, err
			}
		}
		if finished.Valid {
			t := finished.Time
			rec.FinishedAt = &t
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM index_builds`
	err := r.db.QueryRowContext(ctx, query).Scan(&count)
	return count, err
}
