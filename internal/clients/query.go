package clients

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/StuartCAlexander88/World-Queries/internal/config"
)

// ErrQuery is matched by every *QueryError.
var ErrQuery = errors.New("verification query failed")

// QueryError wraps a failure from the verification query. It is not retried:
// once connected, a failing query points at the schema or data.
type QueryError struct {
	Table string
	Err   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("querying %s: %v", e.Table, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

func (e *QueryError) Is(target error) bool { return target == ErrQuery }

// QuoteIdentifier quotes a possibly schema-qualified table name for driver.
// MySQL uses backticks, Postgres uses double quotes.
func QuoteIdentifier(driver, ident string) string {
	parts := strings.Split(ident, ".")
	if driver == config.DriverPostgres {
		return pgx.Identifier(parts).Sanitize()
	}

	for i, p := range parts {
		parts[i] = "`" + strings.ReplaceAll(p, "`", "``") + "`"
	}
	return strings.Join(parts, ".")
}

// FirstColumn runs SELECT * against table and returns the first column of
// each row as text, NULL as an empty string. maxRows of zero reads every row.
func (d *Database) FirstColumn(ctx context.Context, table string, maxRows int) ([]string, error) {
	query := "SELECT * FROM " + QuoteIdentifier(d.driver, table)

	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, &QueryError{Table: table, Err: err}
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, &QueryError{Table: table, Err: err}
	}
	if len(cols) == 0 {
		return nil, &QueryError{Table: table, Err: errors.New("result has no columns")}
	}

	dest := make([]any, len(cols))
	for i := range dest {
		dest[i] = new(sql.NullString)
	}

	var out []string
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, &QueryError{Table: table, Err: err}
		}
		out = append(out, dest[0].(*sql.NullString).String)

		if maxRows > 0 && len(out) >= maxRows {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, &QueryError{Table: table, Err: err}
	}

	return out, nil
}
