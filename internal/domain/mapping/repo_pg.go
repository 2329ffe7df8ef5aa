package mapping

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

type mappingRepoPG struct {
	pool  queryable
	query string
}

// NewMappingRepoPG returns a Repository backed by a PostgreSQL pool.
func NewMappingRepoPG(pool queryable, table Table) Repository {
	return &mappingRepoPG{
		pool: pool,
		query: fmt.Sprintf(`SELECT homegrown_name, COALESCE(snomed_code,''), COALESCE(snomed_standard_name,'')
		 FROM %s
		 WHERE LOWER(homegrown_name) LIKE $1
		 ORDER BY homegrown_name LIMIT $2`, table.Postgres()),
	}
}

func (r *mappingRepoPG) Search(ctx context.Context, pattern string, limit int) ([]*MappingRecord, error) {
	rows, err := r.pool.Query(ctx, r.query, pattern, limit)
	if err != nil {
		return nil, classifyPGError(err)
	}
	defer rows.Close()

	if fds := rows.FieldDescriptions(); fds != nil && len(fds) != 3 {
		return nil, fmt.Errorf("mapping search: %w: got %d columns", ErrUnexpectedShape, len(fds))
	}

	results := []*MappingRecord{}
	for rows.Next() {
		var m MappingRecord
		if err := rows.Scan(&m.HomegrownName, &m.SNOMEDCode, &m.SNOMEDStandardName); err != nil {
			return nil, fmt.Errorf("mapping search: %w: %w", ErrUnexpectedShape, err)
		}
		results = append(results, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPGError(err)
	}
	return results, nil
}

// classifyPGError maps undefined table/column and similar class 42 errors to
// ErrUnexpectedShape; everything else, including insufficient privilege, is
// ErrStoreUnavailable.
func classifyPGError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "42") && pgErr.Code != "42501" {
		return fmt.Errorf("mapping search: %w: %w", ErrUnexpectedShape, err)
	}
	return fmt.Errorf("mapping search: %w: %w", ErrStoreUnavailable, err)
}
