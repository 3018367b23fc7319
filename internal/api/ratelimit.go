package api

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RequestClass selects which of a client's buckets a request draws from.
type RequestClass string

const (
	ClassGeneral RequestClass = "general" // every API request
	ClassTap     RequestClass = "tap"     // POST /api/nfc/tap
	ClassInput   RequestClass = "input"   // POST /api/input and /api/input/release
)

// Bucket is a token bucket size.
type Bucket struct {
	PerSecond float64
	Burst     int
}

// RateLimitConfig sizes the per-client buckets. Tap and input requests are
// charged to their own bucket on top of the general one.
type RateLimitConfig struct {
	General Bucket
	Tap     Bucket
	Input   Bucket
	IdleTTL time.Duration // Clients idle this long are forgotten
}

// DefaultRateLimitConfig returns production-safe defaults.
// The admin panel polls /api/state and /api/frame.png, so the general
// burst is sized for a few open tabs. One badge cannot be read faster than
// a scan window, so taps get a small bucket.
var DefaultRateLimitConfig = RateLimitConfig{
	General: Bucket{PerSecond: 20, Burst: 40},
	Tap:     Bucket{PerSecond: 1, Burst: 2},
	Input:   Bucket{PerSecond: 10, Burst: 20},
	IdleTTL: 10 * time.Minute,
}

// LimiterStats counts limiter decisions for one class
type LimiterStats struct {
	Allowed  uint64 `json:"allowed"`
	Rejected uint64 `json:"rejected"`
}

type clientBuckets struct {
	buckets  map[RequestClass]*rate.Limiter
	lastSeen time.Time
}

// ClientLimiter keeps one token bucket per client IP and request class.
// Idle clients are swept lazily on access, so no goroutine needs stopping.
type ClientLimiter struct {
	cfg RateLimitConfig
	now func() time.Time

	mu        sync.Mutex
	clients   map[string]*clientBuckets
	stats     map[RequestClass]*LimiterStats
	lastSweep time.Time
}

// NewClientLimiter creates a limiter. Zero buckets take the defaults.
func NewClientLimiter(cfg RateLimitConfig) *ClientLimiter {
	if cfg.General == (Bucket{}) {
		cfg.General = DefaultRateLimitConfig.General
	}
	if cfg.Tap == (Bucket{}) {
		cfg.Tap = DefaultRateLimitConfig.Tap
	}
	if cfg.Input == (Bucket{}) {
		cfg.Input = DefaultRateLimitConfig.Input
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultRateLimitConfig.IdleTTL
	}
	return &ClientLimiter{
		cfg:     cfg,
		now:     time.Now,
		clients: make(map[string]*clientBuckets),
		stats:   make(map[RequestClass]*LimiterStats),
	}
}

func (l *ClientLimiter) bucket(class RequestClass) Bucket {
	switch class {
	case ClassTap:
		return l.cfg.Tap
	case ClassInput:
		return l.cfg.Input
	default:
		return l.cfg.General
	}
}

// Allow takes one token from the client's bucket for class.
func (l *ClientLimiter) Allow(ip string, class RequestClass) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweep(now)

	c, ok := l.clients[ip]
	if !ok {
		c = &clientBuckets{buckets: make(map[RequestClass]*rate.Limiter, 1)}
		l.clients[ip] = c
	}
	c.lastSeen = now

	b, ok := c.buckets[class]
	if !ok {
		spec := l.bucket(class)
		b = rate.NewLimiter(rate.Limit(spec.PerSecond), spec.Burst)
		c.buckets[class] = b
	}

	st, ok := l.stats[class]
	if !ok {
		st = &LimiterStats{}
		l.stats[class] = st
	}
	if b.AllowN(now, 1) {
		st.Allowed++
		return true
	}
	st.Rejected++
	return false
}

// sweep drops idle clients at most once per IdleTTL. Caller holds mu.
func (l *ClientLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.cfg.IdleTTL {
		return
	}
	l.lastSweep = now
	for ip, c := range l.clients {
		if now.Sub(c.lastSeen) >= l.cfg.IdleTTL {
			delete(l.clients, ip)
		}
	}
}

// Clients returns how many clients currently hold buckets
func (l *ClientLimiter) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Stats returns a copy of the per-class counters
func (l *ClientLimiter) Stats() map[RequestClass]LimiterStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[RequestClass]LimiterStats, len(l.stats))
	for class, st := range l.stats {
		out[class] = *st
	}
	return out
}

// Limit returns middleware charging each request to the client's class bucket.
func (l *ClientLimiter) Limit(class RequestClass) func(http.Handler) http.Handler {
	reason := "rate_limit"
	if class != ClassGeneral {
		reason = string(class) + "_limit"
	}
	retry := "1"
	if spec := l.bucket(class); spec.PerSecond > 0 && spec.PerSecond < 1 {
		retry = strconv.Itoa(int(math.Ceil(1 / spec.PerSecond)))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow(GetClientIP(r), class) {
				RecordConnectionRejected(reason)
				w.Header().Set("Retry-After", retry)
				writeError(w, "Too many requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetClientIP returns the client address. Forwarding headers are trusted,
// so the cabinet must sit behind a proxy that sets them, or none at all.
func GetClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// ConnLimiter caps concurrent WebSocket connections per client and in total.
type ConnLimiter struct {
	perIP int
	total int

	mu       sync.Mutex
	byIP     map[string]int
	open     int
	rejected uint64
}

// NewConnLimiter creates a connection limiter.
func NewConnLimiter(perIP, total int) *ConnLimiter {
	return &ConnLimiter{perIP: perIP, total: total, byIP: make(map[string]int)}
}

// Acquire reserves a slot for ip. On refusal it returns the metric reason.
func (c *ConnLimiter) Acquire(ip string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.open >= c.total {
		c.rejected++
		return "ws_total_limit", false
	}
	if c.byIP[ip] >= c.perIP {
		c.rejected++
		return "ws_ip_limit", false
	}
	c.byIP[ip]++
	c.open++
	return "", true
}

// Release frees a slot taken by Acquire.
func (c *ConnLimiter) Release(ip string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.byIP[ip]
	if n == 0 {
		return
	}
	if n == 1 {
		delete(c.byIP, ip)
	} else {
		c.byIP[ip] = n - 1
	}
	c.open--
}

// Rejected returns how many connections were refused
func (c *ConnLimiter) Rejected() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rejected
}

// OriginPolicy decides which browser origins may open the WebSocket.
// Loopback origins on any port are always accepted so the admin panel
// works on the cabinet itself.
type OriginPolicy struct {
	allowed map[string]struct{}
}

// NewOriginPolicy builds a policy from exact origins such as
// "https://arcade.example". Wildcard entries are ignored here; CORS
// handles those.
func NewOriginPolicy(origins []string) *OriginPolicy {
	p := &OriginPolicy{allowed: make(map[string]struct{}, len(origins))}
	for _, o := range origins {
		if o == "" || strings.Contains(o, "*") {
			continue
		}
		p.allowed[strings.TrimSuffix(o, "/")] = struct{}{}
	}
	return p
}

// Allowed checks if an origin may connect
func (p *OriginPolicy) Allowed(origin string) bool {
	if origin == "" {
		return false
	}
	for _, loopback := range []string{"http://localhost", "http://127.0.0.1"} {
		if origin == loopback || strings.HasPrefix(origin, loopback+":") {
			return true
		}
	}
	_, ok := p.allowed[origin]
	return ok
}
