package circuitbreaker

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// DatabaseWrapper runs the relational store's sqlx handle through a
// breaker. Context cancellation is the caller's error, not the
// database's, so it still propagates when the breaker admits the call.
type DatabaseWrapper struct {
	db     *sqlx.DB
	cb     *Breaker
	logger *zap.Logger
}

func NewDatabaseWrapper(db *sqlx.DB, logger *zap.Logger) *DatabaseWrapper {
	return &DatabaseWrapper{
		db:     db,
		cb:     New("database", DatabaseConfig(), logger),
		logger: logger,
	}
}

func (dw *DatabaseWrapper) PingContext(ctx context.Context) error {
	err := dw.cb.Execute(ctx, func() error {
		return dw.db.PingContext(ctx)
	})
	recordRequest("database", err == nil)
	return err
}

func (dw *DatabaseWrapper) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var result sql.Result
	err := dw.cb.Execute(ctx, func() error {
		var execErr error
		result, execErr = dw.db.ExecContext(ctx, query, args...)
		return execErr
	})
	recordRequest("database", err == nil)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetContext scans one row into dest. sql.ErrNoRows is the caller's
// concern and does not count against the breaker.
func (dw *DatabaseWrapper) GetContext(ctx context.Context, dest any, query string, args ...any) error {
	var queryErr error
	err := dw.cb.Execute(ctx, func() error {
		queryErr = dw.db.GetContext(ctx, dest, query, args...)
		if queryErr == sql.ErrNoRows {
			return nil
		}
		return queryErr
	})
	recordRequest("database", err == nil)
	if err != nil {
		return err
	}
	return queryErr
}

func (dw *DatabaseWrapper) SelectContext(ctx context.Context, dest any, query string, args ...any) error {
	err := dw.cb.Execute(ctx, func() error {
		return dw.db.SelectContext(ctx, dest, query, args...)
	})
	recordRequest("database", err == nil)
	return err
}

func (dw *DatabaseWrapper) NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error) {
	var result sql.Result
	err := dw.cb.Execute(ctx, func() error {
		var execErr error
		result, execErr = dw.db.NamedExecContext(ctx, query, arg)
		return execErr
	})
	recordRequest("database", err == nil)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (dw *DatabaseWrapper) Close() error { return dw.db.Close() }

// DB returns the raw handle for migrations and transactions, which run
// outside the breaker.
func (dw *DatabaseWrapper) DB() *sqlx.DB { return dw.db }

func (dw *DatabaseWrapper) Open() bool { return dw.cb.State() == StateOpen }
