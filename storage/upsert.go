package storage

import (
	"database/sql"
	"fmt"
	"strings"

	"batdongsan-etl/models"
)

// upsertBatchSize keeps each statement comfortably under the driver's
// 65535-parameter limit.
const upsertBatchSize = 500

// Upsert performs a set-based insert-or-update-if-changed for rows keyed by
// conflictCols. Conflicting rows are updated only when at least one column
// differs from the stored row, so re-writing an unchanged batch is a no-op.
// The whole invocation runs in one transaction: either all rows land or
// none do. The result splits rows into inserted / updated / untouched.
func (s *PostgresStore) Upsert(table string, columns, conflictCols []string, rows [][]interface{}) (models.UpsertResult, error) {
	result := models.UpsertResult{}
	if len(rows) == 0 {
		return result, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return result, fmt.Errorf("upsert %s: begin: %w", table, err)
	}
	defer tx.Rollback()

	for start := 0; start < len(rows); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[start:end]

		inserted, updated, err := upsertBatch(tx, table, columns, conflictCols, batch)
		if err != nil {
			return models.UpsertResult{}, err
		}
		result.Inserted += inserted
		result.Updated += updated
		result.Untouched += len(batch) - inserted - updated
	}

	if err := tx.Commit(); err != nil {
		return models.UpsertResult{}, fmt.Errorf("upsert %s: commit: %w", table, err)
	}
	return result, nil
}

func upsertBatch(tx *sql.Tx, table string, columns, conflictCols []string, batch [][]interface{}) (inserted, updated int, err error) {
	query := buildUpsertQuery(table, columns, conflictCols, len(batch))

	args := make([]interface{}, 0, len(batch)*len(columns))
	for _, row := range batch {
		if len(row) != len(columns) {
			return 0, 0, fmt.Errorf("upsert %s: row has %d values, want %d", table, len(row), len(columns))
		}
		args = append(args, row...)
	}

	rows, err := tx.Query(query, args...)
	if err != nil {
		return 0, 0, fmt.Errorf("upsert %s: exec: %w", table, err)
	}
	defer rows.Close()

	// Untouched rows are filtered out by the change-detection predicate and
	// never come back; xmax = 0 marks the freshly inserted ones.
	for rows.Next() {
		var freshInsert bool
		if err := rows.Scan(&freshInsert); err != nil {
			return 0, 0, fmt.Errorf("upsert %s: scan: %w", table, err)
		}
		if freshInsert {
			inserted++
		} else {
			updated++
		}
	}
	return inserted, updated, rows.Err()
}

// buildUpsertQuery renders the multi-row change-detection upsert:
//
//	INSERT INTO t AS t (cols...) VALUES (...), (...)
//	ON CONFLICT (key) DO UPDATE SET col = EXCLUDED.col, ...
//	WHERE (t.*) IS DISTINCT FROM (EXCLUDED.*)
//	RETURNING (xmax = 0)
func buildUpsertQuery(table string, columns, conflictCols []string, rowCount int) string {
	nCols := len(columns)

	valueStrings := make([]string, rowCount)
	for r := 0; r < rowCount; r++ {
		placeholders := make([]string, nCols)
		for c := 0; c < nCols; c++ {
			placeholders[c] = fmt.Sprintf("$%d", r*nCols+c+1)
		}
		valueStrings[r] = "(" + strings.Join(placeholders, ",") + ")"
	}

	conflictSet := make(map[string]struct{}, len(conflictCols))
	for _, c := range conflictCols {
		conflictSet[c] = struct{}{}
	}
	assignments := make([]string, 0, nCols)
	for _, c := range columns {
		if _, isKey := conflictSet[c]; isKey {
			continue
		}
		assignments = append(assignments, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
	}

	return fmt.Sprintf(`
		INSERT INTO %s AS t (%s)
		VALUES %s
		ON CONFLICT (%s) DO UPDATE SET %s
		WHERE (t.*) IS DISTINCT FROM (EXCLUDED.*)
		RETURNING (xmax = 0)
	`, table,
		strings.Join(columns, ", "),
		strings.Join(valueStrings, ","),
		strings.Join(conflictCols, ", "),
		strings.Join(assignments, ", "))
}
