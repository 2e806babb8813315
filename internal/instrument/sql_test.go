package instrument

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"slices"
	"testing"

	"github.com/XSAM/otelsql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

const fakeDriverName = "instrument-fake"

type fakeDriver struct{}

func (fakeDriver) Open(string) (driver.Conn, error) { return fakeConn{}, nil }

type fakeConn struct{}

func (fakeConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("prepare not supported") }
func (fakeConn) Close() error                        { return nil }
func (fakeConn) Begin() (driver.Tx, error)           { return nil, errors.New("tx not supported") }

func (fakeConn) ExecContext(context.Context, string, []driver.NamedValue) (driver.Result, error) {
	return driver.RowsAffected(1), nil
}

func init() {
	sql.Register(fakeDriverName, fakeDriver{})
}

func TestSQL_RegistersInstrumentedDriver(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	r := newRegistry()
	require.Empty(t, r.activate(SQL(fakeDriverName, otelsql.WithTracerProvider(tp))))
	require.Empty(t, r.activate(SQL(fakeDriverName)))
	assert.True(t, slices.Contains(sql.Drivers(), "otel-"+fakeDriverName))

	db, err := sql.Open(SQLDriverName(fakeDriverName), "")
	require.NoError(t, err)
	defer db.Close()

	ctx, parent := tp.Tracer("test").Start(context.Background(), "handler")
	_, err = db.ExecContext(ctx, "UPDATE products SET price = 1")
	require.NoError(t, err)
	parent.End()

	var exec sdktrace.ReadOnlySpan
	for _, s := range rec.Ended() {
		if s.Name() == "db.exec" {
			exec = s
		}
	}
	require.NotNil(t, exec, "db.exec span recorded")
	assert.Equal(t, trace.SpanKindClient, exec.SpanKind())
	assert.Equal(t, parent.SpanContext().SpanID(), exec.Parent().SpanID())
}

func TestSQL_UnknownDriver(t *testing.T) {
	errs := newRegistry().activate(SQL("no-such-driver"))
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), `sql driver "no-such-driver" is not registered`)
}

func TestSQL_DefaultsToPgx(t *testing.T) {
	assert.Equal(t, "otel-pgx", SQLDriverName(""))
	assert.Equal(t, "sql:pgx", SQL("").Name)
	assert.True(t, slices.Contains(sql.Drivers(), "pgx"))
}

func TestSQLSpanName(t *testing.T) {
	assert.Equal(t, "db.query", sqlSpanName(context.Background(), otelsql.MethodConnQuery, ""))
	assert.Equal(t, "db.commit", sqlSpanName(context.Background(), otelsql.MethodTxCommit, ""))
}
