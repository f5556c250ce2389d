package store

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/quotaguard/tokenquota/internal/errors"
	"github.com/quotaguard/tokenquota/internal/models"
)

// DefaultKeyPrefix namespaces ledger keys in a shared key-value store.
const DefaultKeyPrefix = "tokenquota:"

// KV is the minimal contract of an external key-value store.
type KV interface {
	// Get returns the value and true, or false when the key is absent.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set writes value; a ttl of zero means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	// Keys returns every key starting with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// KVStore serializes ledgers as JSON into a KV.
type KVStore struct {
	kv     KV
	prefix string
	ttl    time.Duration
}

// KVOption configures KVStore.
type KVOption func(*KVStore)

// WithKeyPrefix sets the key prefix (default "tokenquota:").
func WithKeyPrefix(prefix string) KVOption {
	return func(s *KVStore) { s.prefix = prefix }
}

// WithTTL expires idle ledgers after ttl. Expiry also drops fired-threshold
// memory, so ttl should exceed the widest configured window.
func WithTTL(ttl time.Duration) KVOption {
	return func(s *KVStore) { s.ttl = ttl }
}

// NewKVStore creates a ledger store over kv.
func NewKVStore(kv KV, opts ...KVOption) *KVStore {
	s := &KVStore{
		kv:     kv,
		prefix: DefaultKeyPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *KVStore) key(identity string) string {
	return s.prefix + identity
}

// Load implements Store.
func (s *KVStore) Load(ctx context.Context, identity string) (*models.Ledger, error) {
	data, ok, err := s.kv.Get(ctx, s.key(identity))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return decodeLedger(identity, data)
}

// Save implements Store.
func (s *KVStore) Save(ctx context.Context, identity string, ledger *models.Ledger) error {
	data, err := encodeLedger(ledger)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, s.key(identity), data, s.ttl)
}

// Delete implements Store.
func (s *KVStore) Delete(ctx context.Context, identity string) error {
	return s.kv.Del(ctx, s.key(identity))
}

// Identities implements Lister.
func (s *KVStore) Identities(ctx context.Context) ([]string, error) {
	keys, err := s.kv.Keys(ctx, s.prefix)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, strings.TrimPrefix(k, s.prefix))
	}
	return ids, nil
}

// Close closes the underlying KV when it supports closing.
func (s *KVStore) Close() error {
	if c, ok := s.kv.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// RedisKV adapts a go-redis client to KV.
// The client must be a connected *goredis.Client or *goredis.ClusterClient.
type RedisKV struct {
	client goredis.Cmdable
}

// NewRedisKV wraps client.
func NewRedisKV(client goredis.Cmdable) *RedisKV {
	return &RedisKV{client: client}
}

// Get implements KV.
func (r *RedisKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if stderrors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &errors.ErrDatabaseQuery{Operation: "redis get", Err: err}
	}
	return data, true, nil
}

// Set implements KV.
func (r *RedisKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return &errors.ErrDatabaseQuery{Operation: "redis set", Err: err}
	}
	return nil
}

// Del implements KV.
func (r *RedisKV) Del(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return &errors.ErrDatabaseQuery{Operation: "redis del", Err: err}
	}
	return nil
}

// Keys implements KV with SCAN.
func (r *RedisKV) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "redis scan", Err: err}
	}
	return keys, nil
}

// Close closes the client when it supports closing.
func (r *RedisKV) Close() error {
	if c, ok := r.client.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

var (
	_ Store  = (*KVStore)(nil)
	_ Lister = (*KVStore)(nil)
	_ KV     = (*RedisKV)(nil)
)
