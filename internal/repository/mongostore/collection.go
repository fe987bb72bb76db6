package mongostore

import (
	"context"
	"errors"

	appErr "github.com/reqtrace/engine/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type normalizer interface{ Normalize() }

// collection is the typed CRUD shared by the Mongo repositories.
type collection[T any] struct {
	coll   *mongo.Collection
	entity string
}

func newCollection[T any](db *mongo.Database, name, entity string) collection[T] {
	return collection[T]{coll: db.Collection(name), entity: entity}
}

func normalize(v any) {
	if n, ok := v.(normalizer); ok {
		n.Normalize()
	}
}

func (c collection[T]) insert(ctx context.Context, obj *T) error {
	normalize(obj)
	if _, err := c.coll.InsertOne(ctx, obj); err != nil {
		return mapWriteError(err, "create "+c.entity+" failed")
	}
	return nil
}

func (c collection[T]) GetByID(ctx context.Context, id string, dest *T) error {
	return c.findOne(ctx, bson.M{"_id": id}, dest)
}

func (c collection[T]) findOne(ctx context.Context, filter any, dest *T, opts ...options.Lister[options.FindOneOptions]) error {
	if err := c.coll.FindOne(ctx, filter, opts...).Decode(dest); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return appErr.NotFound(c.entity)
		}
		return appErr.Wrap(err, appErr.CodeInternal, "get "+c.entity+" failed")
	}
	normalize(dest)
	return nil
}

func (c collection[T]) Delete(ctx context.Context, id string) error {
	res, err := c.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "delete "+c.entity+" failed")
	}
	if res.DeletedCount == 0 {
		return appErr.NotFound(c.entity)
	}
	return nil
}

func (c collection[T]) DeleteMany(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := c.coll.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return 0, appErr.Wrap(err, appErr.CodeInternal, "delete "+c.entity+" records failed")
	}
	return res.DeletedCount, nil
}

func (c collection[T]) find(ctx context.Context, filter any, sort bson.D, limit int, what string) ([]T, error) {
	opts := options.Find().SetSort(sort).SetLimit(int64(limit))
	cur, err := c.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "list "+what+" failed")
	}
	out := []T{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "decode "+what+" failed")
	}
	for i := range out {
		normalize(&out[i])
	}
	return out, nil
}

func mapWriteError(err error, message string) error {
	if mongo.IsDuplicateKeyError(err) {
		return appErr.Wrap(err, appErr.CodeConflict, message)
	}
	return appErr.Wrap(err, appErr.CodeInternal, message)
}

// activationRetries bounds how often an activation flip is retried after
// losing a race on the partial unique index.
const activationRetries = 5

// flipActive clears is_active on every document matching scope except the
// target, then runs set. A duplicate key from set means another flip won in
// between; the pair is retried.
func flipActive(ctx context.Context, coll *mongo.Collection, scope bson.M, exceptID string, set func() error) error {
	var err error
	for range activationRetries {
		others := bson.M{"is_active": true}
		for k, v := range scope {
			others[k] = v
		}
		if exceptID != "" {
			others["_id"] = bson.M{"$ne": exceptID}
		}
		if _, err = coll.UpdateMany(ctx, others, bson.M{"$set": bson.M{"is_active": false}}); err != nil {
			return appErr.Wrap(err, appErr.CodeInternal, "deactivate failed")
		}
		if err = set(); err == nil || !mongo.IsDuplicateKeyError(err) {
			return err
		}
	}
	return appErr.Wrap(err, appErr.CodeConflict, "activation contended")
}
