package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
)

// Operation is a unit of work that may be attempted more than once.
type Operation func() error

// RetryPredicate decides whether an error is worth another attempt.
type RetryPredicate func(err error) bool

// DefaultMaxRetries bounds Try. SixIDs have 48 random bits so more than one
// collision in a row means something other than bad luck.
const DefaultMaxRetries = 3

// Try runs op, retrying on duplicate key errors.
func Try(op Operation) error {
	return WithRetries(op, DefaultMaxRetries, IsDuplicateKey)
}

// WithRetries runs op up to maxRetries+1 times while shouldRetry approves the
// failure, sleeping a little longer after each attempt.
func WithRetries(op Operation, maxRetries int, shouldRetry RetryPredicate) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if attempt == maxRetries || !shouldRetry(err) {
			break
		}
		time.Sleep(time.Duration(50*(attempt+1)) * time.Millisecond)
	}
	return err
}

// IsDuplicateKey reports whether err carries MongoDB error code 11000.
func IsDuplicateKey(err error) bool {
	return err != nil && mongo.IsDuplicateKeyError(err)
}

// Identified is a document that can (re)generate its own id.
type Identified interface {
	GenID()
}

// InsertOne inserts doc with a fresh id, regenerating it on id collisions.
// Collisions on other unique indexes are retried too, so callers that rely on a
// business unique index should use InsertUnique instead.
func InsertOne(ctx context.Context, coll *mongo.Collection, doc Identified) error {
	return Try(func() error {
		doc.GenID()
		if _, err := coll.InsertOne(ctx, doc); err != nil {
			return fmt.Errorf("insert into %s: %w", coll.Name(), err)
		}
		return nil
	})
}

// InsertUnique inserts doc once. A duplicate key error is returned untouched so
// callers can treat it as "already exists".
func InsertUnique(ctx context.Context, coll *mongo.Collection, doc Identified) error {
	doc.GenID()
	_, err := coll.InsertOne(ctx, doc)
	return err
}
