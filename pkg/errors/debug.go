package errors

import (
	stdErrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// Trace flattens an error chain into loggable fields.
type Trace struct {
	Message string
	Code    Code
	Chain   []string
	PG      *PGDetail
}

// PGDetail carries what Postgres said about a failed statement.
type PGDetail struct {
	Code       string
	Constraint string
	Table      string
	Column     string
	Detail     string
	Message    string
}

func Inspect(err error) Trace {
	var tr Trace
	if err == nil {
		return tr
	}
	tr.Message = err.Error()
	if typed := As(err); typed != nil {
		tr.Code = typed.Code()
	}
	for e := err; e != nil; e = stdErrors.Unwrap(e) {
		tr.Chain = append(tr.Chain, fmt.Sprintf("%T: %v", e, e))
	}
	tr.PG = pgDetailOf(err)
	return tr
}

// Fields omits anything empty so log lines stay short.
func (tr Trace) Fields() map[string]any {
	fields := map[string]any{"error": tr.Message}
	if tr.Code != "" {
		fields["error_code"] = tr.Code
	}
	if len(tr.Chain) > 1 {
		fields["error_chain"] = tr.Chain
	}
	if pg := tr.PG; pg != nil {
		fields["pg_code"] = pg.Code
		for key, value := range map[string]string{
			"pg_constraint": pg.Constraint,
			"pg_table":      pg.Table,
			"pg_column":     pg.Column,
			"pg_detail":     pg.Detail,
			"pg_message":    pg.Message,
		} {
			if value != "" {
				fields[key] = value
			}
		}
	}
	return fields
}

func pgDetailOf(err error) *PGDetail {
	var pgxErr *pgconn.PgError
	if stdErrors.As(err, &pgxErr) {
		return &PGDetail{pgxErr.Code, pgxErr.ConstraintName, pgxErr.TableName, pgxErr.ColumnName, pgxErr.Detail, pgxErr.Message}
	}
	var pqErr *pq.Error
	if stdErrors.As(err, &pqErr) {
		return &PGDetail{string(pqErr.Code), pqErr.Constraint, pqErr.Table, pqErr.Column, pqErr.Detail, pqErr.Message}
	}
	return nil
}
