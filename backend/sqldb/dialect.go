package sqldb

import (
	"errors"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Dialect captures the differences between the supported SQL databases.
type Dialect struct {
	// Name is the backend name used in logs and errors.
	Name string

	// Driver is the database/sql driver name.
	Driver string

	// numbered placeholders ($1, $2) instead of ?
	numbered bool

	tableExists string
	unique      func(error) bool
}

var (
	// SQLite stores documents in a SQLite file through mattn/go-sqlite3.
	SQLite = Dialect{
		Name:        "sqlite",
		Driver:      "sqlite3",
		tableExists: "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?",
		unique: func(err error) bool {
			var se sqlite3.Error
			return errors.As(err, &se) && se.Code == sqlite3.ErrConstraint
		},
	}

	// Postgres stores documents in PostgreSQL through lib/pq.
	Postgres = Dialect{
		Name:        "postgres",
		Driver:      "postgres",
		numbered:    true,
		tableExists: "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = ?",
		unique: func(err error) bool {
			var pe *pq.Error
			return errors.As(err, &pe) && pe.Code == "23505"
		},
	}
)

// DialectByName returns the dialect for "sqlite" or "postgres".
func DialectByName(name string) (Dialect, bool) {
	switch name {
	case SQLite.Name:
		return SQLite, true
	case Postgres.Name:
		return Postgres, true
	default:
		return Dialect{}, false
	}
}

// rebind rewrites ? placeholders for dialects with numbered placeholders.
func (d Dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d Dialect) isUniqueViolation(err error) bool {
	return d.unique != nil && d.unique(err)
}
