package corpus

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

const defaultQuery = `SELECT id, title, description FROM documents ORDER BY id`

// PostgresLoader reads the corpus from a documents table.
type PostgresLoader struct {
	db     *sql.DB
	query  string
	logger *slog.Logger
}

// NewPostgresLoader creates a loader over db. An empty query uses
// `SELECT id, title, description FROM documents ORDER BY id`.
func NewPostgresLoader(db *sql.DB, query string) *PostgresLoader {
	if query == "" {
		query = defaultQuery
	}
	return &PostgresLoader{
		db:     db,
		query:  query,
		logger: slog.Default().With("component", "corpus-postgres"),
	}
}

func (l *PostgresLoader) Load(ctx context.Context) ([]Document, error) {
	rows, err := l.db.QueryContext(ctx, l.query)
	if err != nil {
		return nil, fmt.Errorf("querying corpus: %w", err)
	}
	defer rows.Close()

	docs := make([]Document, 0)
	for rows.Next() {
		var d Document
		var description sql.NullString
		if err := rows.Scan(&d.ID, &d.Title, &description); err != nil {
			return nil, fmt.Errorf("scanning corpus row: %w", err)
		}
		d.Description = description.String
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating corpus rows: %w", err)
	}
	if err := Validate(docs); err != nil {
		return nil, err
	}
	l.logger.Info("corpus loaded", "documents", len(docs))
	return docs, nil
}
