package instrument

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"

	"github.com/XSAM/otelsql"
	_ "github.com/jackc/pgx/v4/stdlib" // registers the "pgx" driver
	"go.opentelemetry.io/otel/attribute"
)

// DefaultSQLDriver is the database/sql driver wrapped when none is named.
const DefaultSQLDriver = "pgx"

// SQLDriverName returns the name under which the instrumented wrapper of
// driver is registered.
func SQLDriverName(driver string) string {
	if driver == "" {
		driver = DefaultSQLDriver
	}
	return "otel-" + driver
}

// SQL registers an instrumented database/sql driver named otel-<driver>
// wrapping driver. Every exec and query through it produces a client span
// db.<op> and a latency sample.
func SQL(driver string, opts ...otelsql.Option) Target {
	if driver == "" {
		driver = DefaultSQLDriver
	}
	name := SQLDriverName(driver)

	return Target{
		Name: "sql:" + driver,
		Activate: func() error {
			if slices.Contains(sql.Drivers(), name) {
				return nil
			}
			if !slices.Contains(sql.Drivers(), driver) {
				return fmt.Errorf("sql driver %q is not registered", driver)
			}

			// Opening with an empty DSN only resolves the driver, no connection is made
			db, err := sql.Open(driver, "")
			if err != nil {
				return err
			}
			base := db.Driver()
			if err := db.Close(); err != nil {
				return err
			}

			options := append([]otelsql.Option{
				otelsql.WithSpanNameFormatter(sqlSpanName),
				otelsql.WithAttributes(attribute.String("db.system.name", dbSystem(driver))),
			}, opts...)
			sql.Register(name, otelsql.WrapDriver(base, options...))
			return nil
		},
	}
}

// sqlSpanName turns otelsql methods such as sql.conn.query into db.query.
func sqlSpanName(_ context.Context, method otelsql.Method, _ string) string {
	m := string(method)
	if i := strings.LastIndexByte(m, '.'); i >= 0 {
		m = m[i+1:]
	}
	return "db." + m
}

func dbSystem(driver string) string {
	switch driver {
	case "pgx", "postgres":
		return "postgresql"
	default:
		return driver
	}
}
