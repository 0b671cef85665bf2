package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LRU is an in-process Backend shared by both tiers.
type LRU struct {
	c  *lru.Cache[string, item]
	mu sync.Mutex
}

type item struct {
	val []byte
	exp time.Time
}

func NewLRU(size int) (*LRU, error) {
	if size <= 0 {
		return nil, errors.New("cache size must be positive")
	}
	if size > 100000 {
		return nil, errors.New("cache size too large")
	}
	c, err := lru.New[string, item](size)
	if err != nil {
		return nil, err
	}
	return &LRU{c: c}, nil
}

func lruKey(ns, key string) string { return ns + "\x00" + key }

func (l *LRU) Get(ctx context.Context, ns, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	k := lruKey(ns, key)
	l.mu.Lock()
	defer l.mu.Unlock()
	it, ok := l.c.Get(k)
	if !ok {
		return nil, nil
	}
	if time.Now().After(it.exp) {
		l.c.Remove(k)
		return nil, nil
	}
	return it.val, nil
}

func (l *LRU) Set(ctx context.Context, ns, key string, val []byte, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.c.Add(lruKey(ns, key), item{
		val: val,
		exp: time.Now().Add(ttl),
	})
	return nil
}

func (l *LRU) Delete(ctx context.Context, ns string, keys ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, k := range keys {
		l.c.Remove(lruKey(ns, k))
	}
	return nil
}

func (l *LRU) Len() int {
	return l.c.Len()
}
