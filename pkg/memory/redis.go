package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

// RedisConfig holds connection settings for the Redis backend.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string `yaml:"addr"`
	// Password is optional.
	Password string `yaml:"password"`
	// DB is the Redis database number.
	DB int `yaml:"db"`
	// Prefix is the key prefix for all entries (default: "lexgo:memory:").
	Prefix string `yaml:"prefix"`
	// TTL is the entry expiry (0 = never expire).
	TTL time.Duration `yaml:"ttl"`
}

// UnmarshalYAML decodes the config, accepting Go duration strings such as
// "24h" for the ttl field.
func (c *RedisConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix"`
		TTL      string `yaml:"ttl"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	c.Addr = raw.Addr
	c.Password = raw.Password
	c.DB = raw.DB
	c.Prefix = raw.Prefix
	if raw.TTL != "" {
		d, err := time.ParseDuration(raw.TTL)
		if err != nil {
			return fmt.Errorf("redis config: bad ttl duration: %w", err)
		}
		c.TTL = d
	}
	return nil
}

// RedisStore is a Store backed by Redis, for setups where coordination
// scratch state should outlive a single process.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

type redisEntry struct {
	Value     any       `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "lexgo:memory:"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisStore{client: client, prefix: prefix, ttl: cfg.TTL}, nil
}

// Put stores a JSON-encoded value under key.
func (s *RedisStore) Put(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(redisEntry{Value: value, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal entry %s: %w", key, err)
	}
	return s.client.Set(ctx, s.prefix+key, data, s.ttl).Err()
}

// Get returns the value for key. JSON round-tripping applies: numbers come
// back as float64 and objects as map[string]any.
func (s *RedisStore) Get(ctx context.Context, key string) (any, bool, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}

	var entry redisEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false, fmt.Errorf("unmarshal entry %s: %w", key, err)
	}
	return entry.Value, true, nil
}

// Delete removes key if present.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}

// Query scans all entries and returns those matching the predicate, ordered
// by key.
func (s *RedisStore) Query(ctx context.Context, match func(Entry) bool) ([]Entry, error) {
	keys, err := s.scanKeys(ctx)
	if err != nil {
		return nil, err
	}

	var results []Entry
	for _, key := range keys {
		data, err := s.client.Get(ctx, s.prefix+key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue // expired between scan and get
		}
		if err != nil {
			return nil, fmt.Errorf("redis get %s: %w", key, err)
		}

		var raw redisEntry
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("unmarshal entry %s: %w", key, err)
		}

		entry := Entry{Key: key, Value: raw.Value, UpdatedAt: raw.UpdatedAt}
		if match == nil || match(entry) {
			results = append(results, entry)
		}
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Key < results[j].Key })
	return results, nil
}

// Keys returns all keys in sorted order.
func (s *RedisStore) Keys(ctx context.Context) ([]string, error) {
	keys, err := s.scanKeys(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

// Close releases the connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) scanKeys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[len(s.prefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	return keys, nil
}
