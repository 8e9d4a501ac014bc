// Package journal records every published snapshot generation outside the
// process: a row per commit in PostgreSQL and an event per commit on the
// snapshot-published Kafka topic.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/postgres"
)

// Schema creates the snapshot_commits table.
const Schema = `CREATE TABLE IF NOT EXISTS snapshot_commits (
    generation   BIGINT PRIMARY KEY,
    doc_count    INTEGER NOT NULL,
    first_id     BIGINT NOT NULL,
    last_id      BIGINT NOT NULL,
    segment      TEXT NOT NULL DEFAULT '',
    duration_ms  DOUBLE PRECISION NOT NULL,
    committed_at TIMESTAMPTZ NOT NULL
)`

// Store persists commit records in PostgreSQL.
type Store struct {
	db     *postgres.Client
	logger *slog.Logger
}

// NewStore creates the table if needed and returns a Store.
func NewStore(ctx context.Context, db *postgres.Client) (*Store, error) {
	if err := db.Migrate(ctx, Schema); err != nil {
		return nil, fmt.Errorf("migrating snapshot_commits: %w", err)
	}
	return &Store{
		db:     db,
		logger: logger.WithComponent("journal-store"),
	}, nil
}

func (s *Store) Name() string { return "postgres" }

// Flush writes a batch of commits in one transaction. Generations already
// present are left untouched, so a re-queued batch is harmless.
func (s *Store) Flush(ctx context.Context, batch []indexer.CommitInfo) error {
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO snapshot_commits
			(generation, doc_count, first_id, last_id, segment, duration_ms, committed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (generation) DO NOTHING`)
		if err != nil {
			return fmt.Errorf("preparing insert: %w", err)
		}
		defer stmt.Close()
		for _, info := range batch {
			_, err := stmt.ExecContext(ctx,
				int64(info.Generation), info.DocCount, int64(info.FirstID), int64(info.LastID),
				info.Segment, float64(info.Duration.Microseconds())/1000, info.CommittedAt.UTC(),
			)
			if err != nil {
				return fmt.Errorf("recording generation %d: %w", info.Generation, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Debug("commits recorded", "count", len(batch))
	return nil
}

// Latest returns the newest recorded commit, or nil if none exist.
func (s *Store) Latest(ctx context.Context) (*indexer.CommitInfo, error) {
	list, err := s.List(ctx, 1)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

// List returns up to limit commits, newest generation first.
func (s *Store) List(ctx context.Context, limit int) ([]indexer.CommitInfo, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT generation, doc_count, first_id, last_id, segment, duration_ms, committed_at
		 FROM snapshot_commits ORDER BY generation DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing commits: %w", err)
	}
	defer rows.Close()

	var out []indexer.CommitInfo
	for rows.Next() {
		info, err := scanCommit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

func scanCommit(rows *sql.Rows) (indexer.CommitInfo, error) {
	var (
		info             indexer.CommitInfo
		gen, first, last int64
		durationMillis   float64
	)
	err := rows.Scan(&gen, &info.DocCount, &first, &last, &info.Segment, &durationMillis, &info.CommittedAt)
	if err != nil {
		return info, fmt.Errorf("scanning commit row: %w", err)
	}
	info.Generation = uint64(gen)
	info.FirstID = uint64(first)
	info.LastID = uint64(last)
	info.Duration = time.Duration(durationMillis * float64(time.Millisecond))
	return info, nil
}
