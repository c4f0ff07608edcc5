// Package cache decorates entity repositories with a redis read-through
// cache. Entities are kept in one hash per table and lookup field; writes go
// through the wrapped repository first and then refresh the hashes.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"healthcore/pkg/domain"
)

// Client is the subset of redis commands the cache uses. *redis.Client
// satisfies it.
type Client interface {
	HMGet(ctx context.Context, key string, fields ...string) *redis.SliceCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

var _ domain.Repository[*domain.Stock] = (*Repository[*domain.Stock])(nil)

// Repository caches FindByID results of an inner repository.
type Repository[E domain.Entity] struct {
	inner  domain.Repository[E]
	client Client
	prefix string
	ttl    time.Duration
	log    *logrus.Entry
}

// Wrap decorates inner with a cache stored under prefix (typically the table
// name). A zero ttl keeps entries until they are overwritten.
func Wrap[E domain.Entity](inner domain.Repository[E], client Client, prefix string, ttl time.Duration, log *logrus.Entry) *Repository[E] {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Repository[E]{
		inner:  inner,
		client: client,
		prefix: prefix,
		ttl:    ttl,
		log:    log.WithField("cache", prefix),
	}
}

func (r *Repository[E]) hashKey(field domain.Field) string {
	return fmt.Sprintf("healthcore:%s:%s", r.prefix, field)
}

// FindByID serves what it can from redis and loads the rest from the inner
// repository in one call. Redis failures fall back to the inner repository.
func (r *Repository[E]) FindByID(ctx context.Context, ids []string, field domain.Field, includeDeleted bool) ([]E, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	cached, missing := r.lookup(ctx, ids, field)
	var loaded []E
	if len(missing) > 0 {
		var err error
		loaded, err = r.inner.FindByID(ctx, missing, field, true)
		if err != nil {
			return nil, err
		}
		r.store(ctx, loaded)
	}
	out := make([]E, 0, len(cached)+len(loaded))
	for _, e := range append(cached, loaded...) {
		if e.Header().IsDeleted && !includeDeleted {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *Repository[E]) lookup(ctx context.Context, ids []string, field domain.Field) ([]E, []string) {
	vals, err := r.client.HMGet(ctx, r.hashKey(field), ids...).Result()
	if err != nil {
		if err != redis.Nil {
			r.log.WithError(err).Warn("cache read failed")
		}
		return nil, ids
	}
	var hits []E
	var missing []string
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			missing = append(missing, ids[i])
			continue
		}
		var e E
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			r.log.WithError(err).WithField("key", ids[i]).Warn("cache entry undecodable")
			missing = append(missing, ids[i])
			continue
		}
		hits = append(hits, e)
	}
	return hits, missing
}

func (r *Repository[E]) store(ctx context.Context, entities []E) {
	if len(entities) == 0 {
		return
	}
	byID := make([]interface{}, 0, 2*len(entities))
	byRef := make([]interface{}, 0, 2*len(entities))
	for _, e := range entities {
		raw, err := json.Marshal(e)
		if err != nil {
			r.log.WithError(err).Warn("cache encode failed")
			continue
		}
		h := e.Header()
		byID = append(byID, h.ID, string(raw))
		if h.ClientReferenceID != "" {
			byRef = append(byRef, h.ClientReferenceID, string(raw))
		}
	}
	r.write(ctx, domain.FieldID, byID)
	r.write(ctx, domain.FieldClientReferenceID, byRef)
}

func (r *Repository[E]) write(ctx context.Context, field domain.Field, pairs []interface{}) {
	if len(pairs) == 0 {
		return
	}
	key := r.hashKey(field)
	if err := r.client.HSet(ctx, key, pairs...).Err(); err != nil {
		r.log.WithError(err).Warn("cache write failed")
		return
	}
	if r.ttl > 0 {
		if err := r.client.Expire(ctx, key, r.ttl).Err(); err != nil {
			r.log.WithError(err).Warn("cache expire failed")
		}
	}
}

// Uncached returns the wrapped repository for reads that must see the
// backing store.
func (r *Repository[E]) Uncached() domain.Repository[E] { return r.inner }

// Find is not cached.
func (r *Repository[E]) Find(ctx context.Context, q domain.Query) ([]E, error) {
	return r.inner.Find(ctx, q)
}

// Save persists through the inner repository and refreshes the cache.
func (r *Repository[E]) Save(ctx context.Context, entities []E, topic string) error {
	if err := r.inner.Save(ctx, entities, topic); err != nil {
		return err
	}
	r.store(ctx, entities)
	return nil
}
