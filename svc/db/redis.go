package db

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"os"
	"time"

	"pobbin/cfg"
	"pobbin/svc/cache"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const edgePrefix = "edge:"

// Redis backs both cache tiers when more than one instance serves traffic.
type Redis struct {
	client  *redis.Client
	timeout time.Duration
}

var _ cache.Backend = (*Redis)(nil)

func NewRedis(url string, c *cfg.Cfg) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	opt.PoolSize = 50
	opt.MinIdleConns = 10
	opt.PoolTimeout = 4 * time.Second
	opt.ConnMaxIdleTime = 5 * time.Minute
	opt.MaxRetries = 3
	opt.MinRetryBackoff = 8 * time.Millisecond
	opt.MaxRetryBackoff = 512 * time.Millisecond
	if c.RedisTLS {
		tlsConfig, err := buildRedisTLSConfig(opt.Addr)
		if err != nil {
			return nil, errors.Wrap(err, "failed to build Redis TLS config")
		}
		opt.TLSConfig = tlsConfig
	}
	if c.RedisUsername != "" {
		opt.Username = c.RedisUsername
	}
	if c.RedisPassword.Value() != "" {
		opt.Password = c.RedisPassword.Value()
	}
	return newRedis(redis.NewClient(opt), c.RedisTimeout)
}

func newRedis(client *redis.Client, timeout time.Duration) (*Redis, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, errors.Wrap(err, "ping redis")
	}
	return &Redis{client: client, timeout: timeout}, nil
}

func buildRedisTLSConfig(addr string) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}
	host := os.Getenv("REDIS_HOSTNAME")
	if host == "" {
		h, _, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, errors.Wrapf(err, "redis addr %q", addr)
		}
		host = h
	}
	tlsConfig.ServerName = host
	certPath := os.Getenv("REDIS_TLS_CA_CERT")
	if certPath == "" {
		systemPool, err := x509.SystemCertPool()
		if err != nil {
			return nil, errors.Wrap(err, "failed to load system cert pool")
		}
		tlsConfig.RootCAs = systemPool
		return tlsConfig, nil
	}
	caCert, err := os.ReadFile(certPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read Redis CA cert")
	}
	certPool := x509.NewCertPool()
	if !certPool.AppendCertsFromPEM(caCert) {
		return nil, errors.New("failed to append Redis CA cert to pool")
	}
	tlsConfig.RootCAs = certPool
	return tlsConfig, nil
}

func edgeKey(ns, key string) string {
	return edgePrefix + ns + ":" + key
}

func (r *Redis) Get(ctx context.Context, ns, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	data, err := r.client.Get(ctx, edgeKey(ns, key)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "redis get")
	}
	return data, nil
}

func (r *Redis) Set(ctx context.Context, ns, key string, val []byte, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return errors.Wrap(r.client.Set(ctx, edgeKey(ns, key), val, ttl).Err(), "redis set")
}

// Delete removes keys in one round trip. Missing keys are not an error.
func (r *Redis) Delete(ctx context.Context, ns string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = edgeKey(ns, k)
	}
	return errors.Wrap(r.client.Del(ctx, full...).Err(), "redis delete")
}

func (r *Redis) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}
