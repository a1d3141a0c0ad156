// Package sqlsearch is a Searcher over one relational table per index.
// Conditions become a parameterized WHERE clause; every registry field of
// the index maps to one column.
package sqlsearch

import (
	"fmt"
	"regexp"
	"strconv"

	apperrors "github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/sqlite"
)

// Dialect captures the differences between the supported databases.
type Dialect struct {
	Name string
	// Placeholder returns the bind marker for the n-th argument, from 1.
	Placeholder func(n int) string
}

var (
	Postgres = Dialect{Name: postgres.DriverName, Placeholder: func(n int) string { return "$" + strconv.Itoa(n) }}
	SQLite   = Dialect{Name: sqlite.DriverName, Placeholder: func(int) string { return "?" }}
)

// DialectFor returns the dialect of a configured driver name.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case postgres.DriverName, "pq":
		return Postgres, nil
	case sqlite.DriverName, "":
		return SQLite, nil
	}
	return Dialect{}, apperrors.NewConfigurationError(driver, "unsupported sql driver")
}

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// quoteIdent double-quotes a table or column name after checking it is a
// plain identifier.
func quoteIdent(name string) (string, error) {
	if !identifier.MatchString(name) {
		return "", apperrors.NewConfigurationError(name, "not a valid sql identifier")
	}
	return fmt.Sprintf(`"%s"`, name), nil
}
