package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"docsearch/internal/vector"
)

const deleteBatch = 500

type Collection struct {
	db   *sql.DB
	name string
}

var _ vector.Collection = (*Collection)(nil)

func (c *Collection) Name() string { return c.name }

func (c *Collection) Add(ctx context.Context, records []vector.Record) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO chunks (collection, id, content, source, page, file_path, dimension, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if len(r.Embedding) == 0 {
			return fmt.Errorf("record %s has no embedding", r.ID)
		}
		_, err := stmt.ExecContext(ctx, c.name, r.ID, r.Text, r.Metadata.Source, r.Metadata.Page,
			r.Metadata.FilePath, len(r.Embedding), vector.EncodeFloat32s(r.Embedding))
		if err != nil {
			return fmt.Errorf("failed to insert %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func (c *Collection) Get(ctx context.Context, filter *vector.Filter, includeDocuments bool) (*vector.Snapshot, error) {
	where, args := c.where(filter)
	rows, err := c.db.QueryContext(ctx,
		"SELECT id, content, source, page, file_path FROM chunks WHERE "+where+" ORDER BY rowid", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read collection: %w", err)
	}
	defer rows.Close()

	snap := &vector.Snapshot{}
	for rows.Next() {
		var id, content string
		var md vector.Metadata
		if err := rows.Scan(&id, &content, &md.Source, &md.Page, &md.FilePath); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		snap.IDs = append(snap.IDs, id)
		snap.Metadatas = append(snap.Metadatas, md)
		if includeDocuments {
			snap.Documents = append(snap.Documents, content)
		}
	}
	return snap, rows.Err()
}

func (c *Collection) Count(ctx context.Context) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks WHERE collection = ?", c.name).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

func (c *Collection) Delete(ctx context.Context, ids []string) error {
	for start := 0; start < len(ids); start += deleteBatch {
		batch := ids[start:min(start+deleteBatch, len(ids))]
		args := make([]interface{}, 0, len(batch)+1)
		args = append(args, c.name)
		for _, id := range batch {
			args = append(args, id)
		}
		query := "DELETE FROM chunks WHERE collection = ? AND id IN (" + placeholders(len(batch)) + ")"
		if _, err := c.db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to delete chunks: %w", err)
		}
	}
	return nil
}

// Query scores every candidate row against embedding and returns the n
// closest by cosine distance. Ties keep insertion order.
func (c *Collection) Query(ctx context.Context, embedding []float32, n int, filter *vector.Filter) ([]vector.Match, error) {
	if n <= 0 {
		return nil, nil
	}
	where, args := c.where(filter)
	rows, err := c.db.QueryContext(ctx,
		"SELECT id, content, source, page, file_path, embedding FROM chunks WHERE "+where+" ORDER BY rowid", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection: %w", err)
	}
	defer rows.Close()

	var matches []vector.Match
	for rows.Next() {
		var m vector.Match
		var blob []byte
		if err := rows.Scan(&m.ID, &m.Text, &m.Metadata.Source, &m.Metadata.Page, &m.Metadata.FilePath, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		stored, err := vector.DecodeFloat32s(blob)
		if err != nil {
			return nil, fmt.Errorf("chunk %s: %w", m.ID, err)
		}
		d := vector.CosineDistance(embedding, stored)
		m.Distance = &d
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return *matches[i].Distance < *matches[j].Distance
	})
	if len(matches) > n {
		matches = matches[:n]
	}
	return matches, nil
}

func (c *Collection) where(filter *vector.Filter) (string, []interface{}) {
	args := []interface{}{c.name}
	if filter == nil {
		return "collection = ?", args
	}
	if len(filter.Sources) == 0 {
		return "collection = ? AND 0", args
	}
	for _, s := range filter.Sources {
		args = append(args, s)
	}
	return "collection = ? AND source IN (" + placeholders(len(filter.Sources)) + ")", args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
