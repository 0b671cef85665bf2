package cache

import (
	"context"
	"net/http"
	"strings"
	"time"

	"pobbin/metrics"
	"pobbin/pkg/domain"
	"pobbin/svc/bg"
	"pobbin/svc/resp"
	"pobbin/svc/util"
)

// Controller serves cached responses and stores cacheable misses in the
// background.
type Controller struct {
	backend     Backend
	tasks       *bg.Registry
	defaultTTL  time.Duration
	loadTimeout time.Duration
	origin      string
}

type ControllerOpts struct {
	DefaultTTL  time.Duration
	LoadTimeout time.Duration
	// PublicOrigin replaces the request's scheme and host in cache keys.
	PublicOrigin string
}

func NewController(b Backend, tasks *bg.Registry, o ControllerOpts) *Controller {
	if o.DefaultTTL <= 0 {
		o.DefaultTTL = 5 * time.Minute
	}
	if o.LoadTimeout <= 0 {
		o.LoadTimeout = 500 * time.Millisecond
	}
	return &Controller{
		backend:     b,
		tasks:       tasks,
		defaultTTL:  o.DefaultTTL,
		loadTimeout: o.LoadTimeout,
		origin:      strings.TrimSuffix(o.PublicOrigin, "/"),
	}
}

// Origin returns scheme://host for r, or the configured public origin.
func (c *Controller) Origin(r *http.Request) string {
	if c.origin != "" {
		return c.origin
	}
	return RequestOrigin(r)
}

func RequestOrigin(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p == "https" || p == "http" {
		scheme = p
	}
	return scheme + "://" + r.Host
}

// Key is the normalized request URL the cache is keyed by. Each decoded
// path segment is escaped like domain derives its URLs, and the query is
// dropped, so a key always matches one of the paste's purge keys.
func (c *Controller) Key(r *http.Request) string {
	segs := strings.Split(r.URL.Path, "/")
	for i, s := range segs {
		segs[i] = domain.PathSegment(s)
	}
	return c.Origin(r) + strings.Join(segs, "/")
}

// Entry is bound to a single request. Its tier never changes after creation.
type Entry struct {
	c       *Controller
	ctx     context.Context
	tier    Tier
	key     string
	enabled bool
}

// Entry prepares the cache step of r. session is the authenticated user and
// owner the user the route is scoped to; either may be empty.
func (c *Controller) Entry(r *http.Request, session, owner domain.User) *Entry {
	if r.Method != http.MethodGet {
		return &Entry{c: c, ctx: r.Context()}
	}
	return &Entry{
		c:       c,
		ctx:     r.Context(),
		tier:    Select(session, owner),
		key:     c.Key(r),
		enabled: true,
	}
}

func (e *Entry) Tier() Tier    { return e.tier }
func (e *Entry) Key() string   { return e.key }
func (e *Entry) Enabled() bool { return e.enabled }

// Load returns the cached response or nil. Lookup failures count as misses.
func (e *Entry) Load() *resp.Response {
	if !e.enabled {
		return nil
	}
	log := util.Ctx(e.ctx)
	ctx, cancel := context.WithTimeout(e.ctx, e.c.loadTimeout)
	defer cancel()
	data, err := e.c.backend.Get(ctx, e.tier.Namespace(), e.key)
	if err != nil {
		log.Warn().Err(err).Str("key", e.key).Stringer("tier", e.tier).Msg("cache lookup failed")
		metrics.CacheLoadErrors.WithLabelValues(e.tier.Namespace()).Inc()
		return nil
	}
	if data == nil {
		metrics.CacheMisses.WithLabelValues(e.tier.Namespace()).Inc()
		return nil
	}
	snap, err := decodeEntry(data)
	if err != nil {
		log.Warn().Err(err).Str("key", e.key).Msg("dropping corrupt cache entry")
		metrics.CacheLoadErrors.WithLabelValues(e.tier.Namespace()).Inc()
		return nil
	}
	metrics.CacheHits.WithLabelValues(e.tier.Namespace()).Inc()
	return resp.FromCache(snap).Header(resp.HeaderCacheTier, e.tier.String())
}

// Store schedules a background write of r when it is cacheable and returns
// r marked as a MISS. Responses that cannot be cached are returned as is.
func (e *Entry) Store(r *resp.Response) *resp.Response {
	if !e.enabled || !r.IsCacheable() {
		return r
	}
	log := util.Ctx(e.ctx)
	snap, err := r.ForCache()
	if err != nil {
		log.Warn().Err(err).Str("key", e.key).Msg("cannot snapshot response for cache")
		return r
	}
	ttl := e.c.defaultTTL
	if d, ok := resp.CacheTTL(strings.Join(http.Header(snap.Header).Values("Cache-Control"), ",")); ok {
		ttl = d
	}
	tier, key, backend := e.tier, e.key, e.c.backend
	err = e.c.tasks.Go(e.ctx, "cache_store", func(ctx context.Context) error {
		data, err := encodeEntry(snap, time.Now())
		if err != nil {
			metrics.CacheStores.WithLabelValues(tier.Namespace(), "error").Inc()
			return err
		}
		if err := backend.Set(ctx, tier.Namespace(), key, data, ttl); err != nil {
			metrics.CacheStores.WithLabelValues(tier.Namespace(), "error").Inc()
			return err
		}
		metrics.CacheStores.WithLabelValues(tier.Namespace(), "ok").Inc()
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Str("key", e.key).Msg("cache store not scheduled")
	}
	return r.
		Header(resp.HeaderCacheTier, e.tier.String()).
		Header(resp.HeaderCacheStatus, resp.CacheMiss)
}
