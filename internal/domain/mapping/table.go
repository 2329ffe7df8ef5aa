package mapping

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
)

var identPartPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// Table is a validated, possibly qualified, table identifier such as
// "FHIR_Gold_Analytics.dbo.snomed_sample".
type Table []string

// ParseTable splits a dotted identifier and validates every part.
func ParseTable(name string) (Table, error) {
	if name == "" {
		return nil, fmt.Errorf("mapping table name is empty")
	}
	parts := strings.Split(name, ".")
	if len(parts) > 3 {
		return nil, fmt.Errorf("mapping table %q has more than three parts", name)
	}
	for _, p := range parts {
		if !identPartPattern.MatchString(p) {
			return nil, fmt.Errorf("invalid mapping table identifier part %q", p)
		}
	}
	return Table(parts), nil
}

// String returns the dotted form.
func (t Table) String() string { return strings.Join(t, ".") }

// Postgres quotes the identifier for PostgreSQL.
func (t Table) Postgres() string { return pgx.Identifier(t).Sanitize() }

// SQLServer quotes the identifier with brackets for SQL Server.
func (t Table) SQLServer() string {
	quoted := make([]string, len(t))
	for i, p := range t {
		quoted[i] = "[" + p + "]"
	}
	return strings.Join(quoted, ".")
}
