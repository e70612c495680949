package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

const maxChainDepth = 8

// pgDetail is the subset of a Postgres error worth logging. Both the pgx
// and lib/pq drivers can surface one depending on how the pool was opened.
type pgDetail struct {
	code       string
	constraint string
	table      string
	column     string
	detail     string
	message    string
}

func postgresDetail(err error) (pgDetail, bool) {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return pgDetail{
			code:       pgxErr.Code,
			constraint: pgxErr.ConstraintName,
			table:      pgxErr.TableName,
			column:     pgxErr.ColumnName,
			detail:     pgxErr.Detail,
			message:    pgxErr.Message,
		}, true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pgDetail{
			code:       string(pqErr.Code),
			constraint: pqErr.Constraint,
			table:      pqErr.Table,
			column:     pqErr.Column,
			detail:     pqErr.Detail,
			message:    pqErr.Message,
		}, true
	}
	return pgDetail{}, false
}

// LogFields flattens err into structured log fields: the typed code, the
// unwrap chain and any Postgres diagnostics. Empty values are omitted.
func LogFields(err error) map[string]any {
	if err == nil {
		return map[string]any{}
	}
	fields := map[string]any{"error": err.Error()}
	if typed := As(err); typed != nil {
		fields["error_code"] = string(typed.Code())
	}

	var chain []string
	for e := errors.Unwrap(err); e != nil && len(chain) < maxChainDepth; e = errors.Unwrap(e) {
		chain = append(chain, fmt.Sprintf("%T: %v", e, e))
	}
	if len(chain) > 0 {
		fields["error_chain"] = chain
	}

	if pg, ok := postgresDetail(err); ok {
		for key, value := range map[string]string{
			"pg_code":       pg.code,
			"pg_constraint": pg.constraint,
			"pg_table":      pg.table,
			"pg_column":     pg.column,
			"pg_detail":     pg.detail,
			"pg_message":    pg.message,
		} {
			if value != "" {
				fields[key] = value
			}
		}
	}
	return fields
}
