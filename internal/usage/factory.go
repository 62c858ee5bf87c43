package usage

import (
	"context"
	"errors"
	"fmt"

	"aigateway/internal/storage"
)

// ReadStore is a Store that can also answer ledger queries.
type ReadStore interface {
	Store
	Reader
}

// Result holds the running ledger and its query side.
type Result struct {
	Logger *Logger
	Reader Reader
}

// Close flushes buffered records and stops background work.
func (r *Result) Close() error {
	if r.Logger == nil {
		return nil
	}
	if err := r.Logger.Close(); err != nil {
		return fmt.Errorf("usage logger close: %w", err)
	}
	return nil
}

// New builds the ledger on top of an open storage connection. A nil store selects the
// in-memory backend. The storage connection stays owned by the caller.
func New(ctx context.Context, store storage.Storage, cfg Config) (*Result, error) {
	rs, err := createStore(ctx, store, cfg.RetentionDays)
	if err != nil {
		return nil, err
	}
	return &Result{
		Logger: NewLogger(rs, cfg),
		Reader: rs,
	}, nil
}

func createStore(ctx context.Context, store storage.Storage, retentionDays int) (ReadStore, error) {
	if store == nil {
		return NewMemoryStore(), nil
	}

	switch store.Type() {
	case storage.TypeSQLite:
		return NewSQLiteStore(store.SQLiteDB(), retentionDays)
	case storage.TypePostgreSQL:
		pool := store.PostgreSQLPool()
		if pool == nil {
			return nil, errors.New("PostgreSQL pool is nil")
		}
		return NewPostgreSQLStore(ctx, pool, retentionDays)
	case storage.TypeMongoDB:
		db := store.MongoDatabase()
		if db == nil {
			return nil, errors.New("MongoDB database is nil")
		}
		return NewMongoDBStore(ctx, db, retentionDays)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", store.Type())
	}
}
