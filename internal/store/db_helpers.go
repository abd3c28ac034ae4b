package store

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"shopsync/internal/db"
)

func (s *Store) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res := s.db.WithContext(ctx).Exec(query, args...)
	return res.RowsAffected, res.Error
}

// transaction runs fn in one database transaction. fn must only use tx.
func (s *Store) transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}

// forUpdate adds a row lock on backends that support SELECT ... FOR UPDATE.
// SQLite serializes writers on the database lock instead.
func (s *Store) forUpdate(tx *gorm.DB) *gorm.DB {
	if s.backend == db.BackendPostgres {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}
