package core

import (
	"context"
	"io"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"healthcore/internal/config"
	"healthcore/internal/infra/cache"
	"healthcore/internal/infra/persistence/memory"
	"healthcore/internal/infra/persistence/postgres"
	"healthcore/internal/infra/persistence/sqlite"
	"healthcore/internal/infra/persistence/sqlstore"
	"healthcore/pkg/domain"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// OpenedStores bundles the stores with whatever must be closed on shutdown.
type OpenedStores struct {
	Stores
	// Assign loads plan employee assignments into the backend.
	Assign  func(ctx context.Context, assignments ...domain.PlanEmployeeAssignment) error
	closers []io.Closer
}

// Close releases the database and cache connections.
func (o *OpenedStores) Close() error {
	var first error
	for i := len(o.closers) - 1; i >= 0; i-- {
		if err := o.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// MemoryStores wires every store to one in-memory backend.
func MemoryStores(m *memory.Store) Stores {
	return Stores{
		Stocks:           m.Stocks,
		Ledger:           m,
		Households:       m.Households,
		HouseholdMembers: m.HouseholdMembers,
		MemberIndex:      m,
		Projects:         m.Projects,
		Plans:            m,
		Assignments:      m,
	}
}

// SQLStores wires every store to one SQL backend.
func SQLStores(s *sqlstore.Store) Stores {
	return Stores{
		Stocks:           s.Stocks,
		Ledger:           s,
		Households:       s.Households,
		HouseholdMembers: s.HouseholdMembers,
		MemberIndex:      s,
		Projects:         s.Projects,
		Plans:            s,
		Assignments:      s,
	}
}

// OpenStores selects a backend from opts and, when a redis address is
// configured, puts a read-through cache in front of the entity repositories.
func OpenStores(ctx context.Context, opts config.StorageOptions, cacheOpts config.CacheOptions, log *logrus.Entry) (*OpenedStores, error) {
	out := &OpenedStores{}
	switch StorageDriver(opts.Driver) {
	case StorageMemory:
		m := memory.NewStore()
		out.Stores = MemoryStores(m)
		out.Assign = m.PutAssignments
	case StorageSQLite:
		s, err := sqlite.NewStore(ctx, opts.SQLitePath)
		if err != nil {
			return nil, errors.Wrap(err, "open sqlite store")
		}
		out.Stores = SQLStores(s)
		out.Assign = s.PutAssignments
		out.closers = append(out.closers, s)
	case StoragePostgres:
		s, err := postgres.NewStore(ctx, opts.PostgresDSN, postgres.Options{})
		if err != nil {
			return nil, errors.Wrap(err, "open postgres store")
		}
		out.Stores = SQLStores(s)
		out.Assign = s.PutAssignments
		out.closers = append(out.closers, s)
	default:
		return nil, errors.Errorf("unknown storage driver %s", opts.Driver)
	}

	if cacheOpts.RedisAddr == "" {
		return out, nil
	}
	client, err := cache.Dial(ctx, cacheOpts.RedisAddr, cacheOpts.RedisPassword, cacheOpts.RedisDB)
	if err != nil {
		_ = out.Close()
		return nil, errors.Wrap(err, "open cache")
	}
	out.closers = append(out.closers, client)
	out.Stores = CachedStores(out.Stores, client, cacheOpts.TTL, log)
	return out, nil
}

// CachedStores wraps the entity repositories of stores with redis caches.
func CachedStores(stores Stores, client *redis.Client, ttl time.Duration, log *logrus.Entry) Stores {
	stores.Stocks = cache.Wrap(stores.Stocks, client, string(domain.EntityStock), ttl, log)
	stores.Households = cache.Wrap(stores.Households, client, string(domain.EntityHousehold), ttl, log)
	stores.HouseholdMembers = cache.Wrap(stores.HouseholdMembers, client, string(domain.EntityHouseholdMember), ttl, log)
	stores.Projects = cache.Wrap(stores.Projects, client, string(domain.EntityProject), ttl, log)
	return stores
}
