package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	appErr "github.com/reqtrace/engine/pkg/errors"
	"gorm.io/gorm"
)

const pgUniqueViolation = "23505"

// normalizer is implemented by every model so reads come back in canonical form.
type normalizer interface{ Normalize() }

// baseRepository holds the CRUD shared by the gorm repositories. entity is
// used in error messages ("group not found").
type baseRepository[T any] struct {
	db     *gorm.DB
	entity string
}

func newBaseRepository[T any](db *gorm.DB, entity string) baseRepository[T] {
	return baseRepository[T]{db: db, entity: entity}
}

func (r baseRepository[T]) create(ctx context.Context, obj *T) error {
	if n, ok := any(obj).(normalizer); ok {
		n.Normalize()
	}
	if err := r.db.WithContext(ctx).Create(obj).Error; err != nil {
		return mapWriteError(err, "create "+r.entity+" failed")
	}
	return nil
}

func (r baseRepository[T]) GetByID(ctx context.Context, id string, dest *T) error {
	if err := r.db.WithContext(ctx).First(dest, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return appErr.NotFound(r.entity)
		}
		return appErr.Wrap(err, appErr.CodeInternal, "get "+r.entity+" failed")
	}
	if n, ok := any(dest).(normalizer); ok {
		n.Normalize()
	}
	return nil
}

func (r baseRepository[T]) Delete(ctx context.Context, id string) error {
	var t T
	res := r.db.WithContext(ctx).Delete(&t, "id = ?", id)
	if res.Error != nil {
		return appErr.Wrap(res.Error, appErr.CodeInternal, "delete "+r.entity+" failed")
	}
	if res.RowsAffected == 0 {
		return appErr.NotFound(r.entity)
	}
	return nil
}

func (r baseRepository[T]) DeleteMany(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var t T
	res := r.db.WithContext(ctx).Delete(&t, "id IN ?", ids)
	if res.Error != nil {
		return 0, appErr.Wrap(res.Error, appErr.CodeInternal, "delete "+r.entity+" records failed")
	}
	return res.RowsAffected, nil
}

func (r baseRepository[T]) find(q *gorm.DB, limit int, what string) ([]T, error) {
	var out []T
	if err := q.Limit(limit).Find(&out).Error; err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "list "+what+" failed")
	}
	for i := range out {
		if n, ok := any(&out[i]).(normalizer); ok {
			n.Normalize()
		}
	}
	return out, nil
}

// mapWriteError turns unique violations into conflicts and everything else into internal errors.
func mapWriteError(err error, message string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return appErr.Wrap(err, appErr.CodeConflict, message+": duplicate "+pgErr.ConstraintName)
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return appErr.Wrap(err, appErr.CodeConflict, message)
	}
	return appErr.Wrap(err, appErr.CodeInternal, message)
}

// lockScope takes a transaction-scoped advisory lock so activation flips in the
// same scope are serialized.
func lockScope(tx *gorm.DB, scope string) error {
	return tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", scope).Error
}
