package csql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq" // load database driver for postgres

	"github.com/relabs-tech/awokado/core/logger"
)

// DB encapsulates a standard sql.DB with a schema
type DB struct {
	*sql.DB
	Schema string
}

// ErrNoRows is returned by Scan when QueryRow doesn't return a
// row. In such a case, QueryRow returns a placeholder *Row value that
// defers this error until a Scan.
var ErrNoRows = sql.ErrNoRows

// Queryer is the part of *sql.DB and *sql.Tx the pipelines need
type Queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// OpenWithSchema opens a postgres database with a schema. The schema gets created
// if it does not exist yet, and becomes the search path of every connection.
// maxOpenConns bounds the connection pool; requests wait for a free connection.
func OpenWithSchema(dataSourceName, schema string, maxOpenConns int) *DB {
	rlog := logger.Default()
	rlog.Infoln("connecting to postgres database:", redact(dataSourceName))
	if len(schema) == 0 {
		schema = "public"
	}
	if schema != "public" {
		setup, err := sql.Open("postgres", dataSourceName)
		if err != nil {
			panic(err)
		}
		_, err = setup.Exec(`CREATE schema IF NOT EXISTS ` + schema + `;`)
		setup.Close()
		if err != nil {
			panic(err)
		}
		rlog.Infoln("selected database schema:", schema)
		dataSourceName = withSearchPath(dataSourceName, schema)
	}

	db, err := sql.Open("postgres", dataSourceName)
	if err != nil {
		panic(err)
	}
	if err = db.Ping(); err != nil {
		panic(err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}
	return &DB{DB: db, Schema: schema}
}

func withSearchPath(dataSourceName, schema string) string {
	if strings.Contains(dataSourceName, "://") {
		if strings.Contains(dataSourceName, "?") {
			return dataSourceName + "&search_path=" + schema
		}
		return dataSourceName + "?search_path=" + schema
	}
	return dataSourceName + " search_path=" + schema
}

func redact(dataSourceName string) string {
	if i := strings.Index(dataSourceName, "@"); i >= 0 && strings.Contains(dataSourceName, "://") {
		return dataSourceName[:strings.Index(dataSourceName, "://")+3] + "***" + dataSourceName[i:]
	}
	return dataSourceName
}

// ClearSchema clears all the data contained in the database's schema
// Technically this is done by dropping the schema and then recreating it
func (db *DB) ClearSchema() {
	if db.Schema == "public" {
		panic("refuse to drop public schema")
	}
	_, err := db.Exec(`DROP SCHEMA ` + db.Schema + ` CASCADE;
	CREATE schema IF NOT EXISTS ` + db.Schema + `;`)
	if err != nil {
		logger.Default().Errorln("clear schema error:", db.Schema, err.Error())
	}
}

// Beginner starts transactions, it is implemented by *sql.DB
type Beginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// WithTransaction runs fn in a transaction. The transaction is committed if fn
// returns nil and rolled back otherwise, also when fn panics.
func WithTransaction(ctx context.Context, db Beginner, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cannot begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err = fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.FromContext(ctx).WithError(rbErr).Errorln("rollback failed")
		}
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("cannot commit transaction: %w", err)
	}
	return nil
}

type contextKeyQueryerType struct{}

var contextKeyQueryer = &contextKeyQueryerType{}

// ContextWithQueryer returns a new context carrying the queryer of the current
// request, so that authorization policies can run their own queries within the
// request's transaction
func ContextWithQueryer(ctx context.Context, q Queryer) context.Context {
	return context.WithValue(ctx, contextKeyQueryer, q)
}

// QueryerFromContext returns the queryer of the current request, or nil
func QueryerFromContext(ctx context.Context) Queryer {
	q, _ := ctx.Value(contextKeyQueryer).(Queryer)
	return q
}
