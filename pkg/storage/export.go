package storage

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/Sternrassler/github-harvester/pkg/harvest"
)

// csvHeader defines the export column order.
var csvHeader = []string{"id", "node_id", "full_name", "owner_login", "name", "stargazer_count", "fetched_at"}

// ExportCSV streams all stored repositories to w as CSV, ordered by
// star count descending. Returns the number of exported rows.
func (s *Store) ExportCSV(ctx context.Context, w io.Writer) (int64, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, node_id, full_name, owner_login, name, stargazer_count, fetched_at
		FROM repositories
		ORDER BY stargazer_count DESC, id ASC`)
	if err != nil {
		return 0, fmt.Errorf("query repositories: %w", err)
	}
	defer rows.Close()

	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}

	var exported int64
	for rows.Next() {
		var r harvest.Repository
		if err := rows.Scan(&r.ID, &r.NodeID, &r.FullName, &r.OwnerLogin, &r.Name, &r.StargazerCount, &r.FetchedAt); err != nil {
			return exported, fmt.Errorf("scan row: %w", err)
		}
		record := []string{
			strconv.FormatInt(r.ID, 10),
			r.NodeID,
			r.FullName,
			r.OwnerLogin,
			r.Name,
			strconv.Itoa(r.StargazerCount),
			r.FetchedAt.UTC().Format(time.RFC3339),
		}
		if err := writer.Write(record); err != nil {
			return exported, fmt.Errorf("write row: %w", err)
		}
		exported++
	}
	if err := rows.Err(); err != nil {
		return exported, fmt.Errorf("iterate rows: %w", err)
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return exported, fmt.Errorf("flush csv: %w", err)
	}
	return exported, nil
}

// ExportCSVFile writes the CSV export to path, creating or truncating
// the file.
func (s *Store) ExportCSVFile(ctx context.Context, path string) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create export file: %w", err)
	}

	exported, err := s.ExportCSV(ctx, f)
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("close export file: %w", closeErr)
	}
	if err != nil {
		return exported, err
	}

	s.logger.Info().
		Str("path", path).
		Int64("rows", exported).
		Msg("CSV export written")
	return exported, nil
}
