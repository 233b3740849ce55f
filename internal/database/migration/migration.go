package migration

import (
	"strconv"
	"time"
)

type Dialect int

const (
	DialectPostgres Dialect = iota
	DialectSQLite
)

// placeholder returns the n-th (1 based) bind parameter for the dialect.
func (d Dialect) placeholder(n int) string {
	if d == DialectPostgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

type Migration interface {
	Identifier() string
	Up(dialect Dialect) string
}

type MigrationEntity struct {
	Id          string
	PerformedAt time.Time
}
