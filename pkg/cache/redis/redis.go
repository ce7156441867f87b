// Package redis implements [cache.Cache] on Redis or any wire compatible server such as Dragonfly.
package redis

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/segmentmapper/segmentmapper/pkg/cache"
)

type Option func(h *Handle)

type Handle struct {
	db        int
	ttl       time.Duration
	addrs     []string
	username  string
	password  string
	keyPrefix string
	client    redis.UniversalClient
}

var _ cache.Cache = (*Handle)(nil)

var (
	ErrTTLMissing  = errors.New("TTL must be specified")
	ErrAddrMissing = errors.New("redis addresses must be specified")
)

// WithTTL sets the time to live of every stored item.
func WithTTL(ttl time.Duration) Option {
	return func(h *Handle) {
		h.ttl = ttl
	}
}

// WithAddr takes a comma separated list of host:port addresses.
func WithAddr(addrs string) Option {
	return func(h *Handle) {
		for _, addr := range strings.Split(addrs, ",") {
			if addr = strings.TrimSpace(addr); addr != "" {
				h.addrs = append(h.addrs, addr)
			}
		}
	}
}

func WithUsername(username string) Option {
	return func(h *Handle) {
		h.username = username
	}
}

func WithPassword(password string) Option {
	return func(h *Handle) {
		h.password = password
	}
}

func WithDatabase(db int) Option {
	return func(h *Handle) {
		h.db = db
	}
}

// WithKeyPrefix namespaces every key, so several deployments can share one server.
func WithKeyPrefix(prefix string) Option {
	return func(h *Handle) {
		h.keyPrefix = prefix
	}
}

// New creates a client. It does not contact the server; use Ping for that.
func New(opts ...Option) (*Handle, error) {
	h := &Handle{}

	for _, opt := range opts {
		opt(h)
	}

	if len(h.addrs) == 0 {
		return nil, ErrAddrMissing
	}

	if h.ttl <= 0 {
		return nil, ErrTTLMissing
	}

	h.client = redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    h.addrs,
		DB:       h.db,
		Username: h.username,
		Password: h.password,
	})

	return h, nil
}

func (h *Handle) key(k string) string {
	return h.keyPrefix + k
}

// Ping see [cache.Cache].Ping.
func (h *Handle) Ping(ctx context.Context) error {
	return h.client.Ping(ctx).Err()
}

// Close see [cache.Cache].Close.
func (h *Handle) Close() error {
	return h.client.Close()
}

// Del see [cache.Cache].Del.
func (h *Handle) Del(ctx context.Context, keys ...string) error {
	prefixed := make([]string, 0, len(keys))
	for _, k := range keys {
		prefixed = append(prefixed, h.key(k))
	}
	return h.client.Del(ctx, prefixed...).Err()
}

// Get see [cache.Cache].Get.
func (h *Handle) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := h.client.Get(ctx, h.key(key)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, cache.ErrKeyNotFound
	case err != nil:
		return nil, err
	default:
		return value, nil
	}
}

// Set see [cache.Cache].Set.
func (h *Handle) Set(ctx context.Context, key string, value []byte) error {
	return h.client.Set(ctx, h.key(key), value, h.ttl).Err()
}
