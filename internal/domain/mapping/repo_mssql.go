package mapping

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	mssql "github.com/microsoft/go-mssqldb"
)

type sqlQueryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

type mappingRepoMSSQL struct {
	db    sqlQueryer
	query string
}

// NewMappingRepoMSSQL returns a Repository backed by SQL Server, including
// Fabric lakehouse and warehouse SQL endpoints.
func NewMappingRepoMSSQL(db sqlQueryer, table Table) Repository {
	return &mappingRepoMSSQL{
		db:    db,
		query: mssqlSearchQuery(table),
	}
}

func mssqlSearchQuery(table Table) string {
	return fmt.Sprintf(`SELECT TOP (@limit)
		homegrown_name, COALESCE(snomed_code,''), COALESCE(snomed_standard_name,'')
		FROM %s
		WHERE LOWER(homegrown_name) LIKE @pattern
		ORDER BY homegrown_name`, table.SQLServer())
}

func (r *mappingRepoMSSQL) Search(ctx context.Context, pattern string, limit int) ([]*MappingRecord, error) {
	rows, err := r.db.QueryContext(ctx, r.query,
		sql.Named("limit", limit),
		sql.Named("pattern", pattern))
	if err != nil {
		return nil, classifyMSSQLError(err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, classifyMSSQLError(err)
	}
	if len(cols) != 3 {
		return nil, fmt.Errorf("mapping search: %w: got %d columns", ErrUnexpectedShape, len(cols))
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
		return nil, classifyMSSQLError(err)
	}
	return results, nil
}

// SQL Server error numbers that indicate the table does not look like the
// mapping table.
const (
	mssqlInvalidColumn     = 207
	mssqlInvalidObject     = 208
	mssqlAmbiguousColumn   = 209
	mssqlMultipartNotBound = 4104
)

func classifyMSSQLError(err error) error {
	var msErr mssql.Error
	if errors.As(err, &msErr) {
		switch msErr.Number {
		case mssqlInvalidColumn, mssqlInvalidObject, mssqlMultipartNotBound, mssqlAmbiguousColumn:
			return fmt.Errorf("mapping search: %w: %w", ErrUnexpectedShape, err)
		}
	}
	return fmt.Errorf("mapping search: %w: %w", ErrStoreUnavailable, err)
}
