package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/eldtechnologies/promptsync/internal/crypto"
	"github.com/eldtechnologies/promptsync/internal/metrics"
)

const (
	violationLimit = 10
	violationTTL   = time.Hour
	blockDuration  = 24 * time.Hour
)

// Limit caps requests matching Method and Path within a sliding Window.
// A Path ending in "/" matches every path below it; any other Path also
// matches itself with a trailing slash, as the router does.
type Limit struct {
	Name     string
	Method   string
	Path     string
	Requests int
	Window   time.Duration
	Key      func(r *http.Request) string
}

func (l Limit) matches(r *http.Request) bool {
	if r.Method != l.Method {
		return false
	}
	if strings.HasSuffix(l.Path, "/") {
		return strings.HasPrefix(r.URL.Path, l.Path)
	}
	return strings.TrimSuffix(r.URL.Path, "/") == l.Path
}

// DefaultLimits are checked in order; the first match applies.
var DefaultLimits = []Limit{
	{Name: "create_room", Method: http.MethodPost, Path: "/api/rooms", Requests: 10, Window: time.Hour, Key: ipKey},
	{Name: "room_read", Method: http.MethodGet, Path: "/api/rooms/", Requests: 120, Window: time.Minute, Key: ipKey},
	{Name: "room_command", Method: http.MethodPost, Path: "/api/rooms/", Requests: 120, Window: time.Minute, Key: roomKey},
	{Name: "room_rename", Method: http.MethodPut, Path: "/api/rooms/", Requests: 30, Window: time.Minute, Key: roomKey},
	{Name: "room_kick", Method: http.MethodDelete, Path: "/api/rooms/", Requests: 30, Window: time.Minute, Key: roomKey},
	{Name: "ws_upgrade", Method: http.MethodGet, Path: "/api/ws", Requests: 60, Window: time.Minute, Key: ipKey},
}

// RateLimiterConfig holds configuration for the rate limiter.
type RateLimiterConfig struct {
	Whitelist        []string // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled bool
	Limits           []Limit // nil means DefaultLimits
}

// RateLimiter enforces per-IP and per-room request limits shared by every
// server process through Redis.
type RateLimiter struct {
	client    *redis.Client
	limits    []Limit
	blocker   *IPBlocker
	exempt    []netip.Prefix
	autoBlock bool
	logger    zerolog.Logger
}

// NewRateLimiter creates a rate limiter backed by client.
func NewRateLimiter(client *redis.Client, logger zerolog.Logger, cfg RateLimiterConfig) *RateLimiter {
	limits := cfg.Limits
	if limits == nil {
		limits = DefaultLimits
	}

	rl := &RateLimiter{
		client:    client,
		limits:    limits,
		blocker:   NewIPBlocker(client),
		exempt:    parseAllowList(cfg.Whitelist, logger),
		autoBlock: cfg.AutoBlockEnabled,
		logger:    logger,
	}
	if len(rl.exempt) > 0 {
		logger.Info().Int("entries", len(rl.exempt)).Msg("rate limit whitelist configured")
	}
	return rl
}

// parseAllowList accepts single addresses and CIDR prefixes.
func parseAllowList(entries []string, logger zerolog.Logger) []netip.Prefix {
	var out []netip.Prefix
	for _, entry := range entries {
		if p, err := netip.ParsePrefix(entry); err == nil {
			out = append(out, p.Masked())
			continue
		}
		if a, err := netip.ParseAddr(entry); err == nil {
			a = a.Unmap()
			out = append(out, netip.PrefixFrom(a, a.BitLen()))
			continue
		}
		logger.Warn().Str("entry", entry).Msg("invalid whitelist entry")
	}
	return out
}

func (rl *RateLimiter) isExempt(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	return lo.ContainsBy(rl.exempt, func(p netip.Prefix) bool { return p.Contains(addr) })
}

func ipKey(r *http.Request) string {
	return "ip:" + RealIP(r)
}

// roomKey keys room-scoped endpoints by room id, falling back to the
// client IP.
func roomKey(r *http.Request) string {
	rest, ok := strings.CutPrefix(r.URL.Path, "/api/rooms/")
	roomID, _, _ := strings.Cut(rest, "/")
	if !ok || roomID == "" {
		return ipKey(r)
	}
	return "room:" + roomID
}

// RealIP returns the client address. Proxy headers other than Fly's are
// already folded into RemoteAddr by chi's RealIP middleware.
func RealIP(r *http.Request) string {
	if ip := r.Header.Get("Fly-Client-IP"); ip != "" {
		return ip
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

type decision struct {
	allowed   bool
	remaining int
	resetAt   time.Time
}

// allow records one hit for key and reports whether it fits l. Hits older
// than the window are trimmed before counting.
func (rl *RateLimiter) allow(ctx context.Context, l Limit, key string) (decision, error) {
	now := time.Now()
	redisKey := "promptsync:ratelimit:" + l.Name + ":" + key

	var count *redis.IntCmd
	var oldest *redis.ZSliceCmd
	_, err := rl.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, redisKey, "-inf", strconv.FormatInt(now.Add(-l.Window).UnixMilli(), 10))
		count = pipe.ZCard(ctx, redisKey)
		pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixMilli()), Member: crypto.NewMessageID()})
		pipe.PExpire(ctx, redisKey, l.Window)
		oldest = pipe.ZRangeWithScores(ctx, redisKey, 0, 0)
		return nil
	})
	if err != nil {
		return decision{allowed: true, remaining: l.Requests}, err
	}

	n := int(count.Val())
	d := decision{
		allowed:   n < l.Requests,
		remaining: max(l.Requests-n-1, 0),
		resetAt:   now.Add(l.Window),
	}
	if z := oldest.Val(); len(z) > 0 {
		d.resetAt = time.UnixMilli(int64(z[0].Score)).Add(l.Window)
	}
	return d, nil
}

func (rl *RateLimiter) match(r *http.Request) (Limit, bool) {
	return lo.Find(rl.limits, func(l Limit) bool { return l.matches(r) })
}

// Middleware returns the rate limiting middleware. Redis errors fail open.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := RealIP(r)
		if rl.isExempt(ip) {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		if blocked, _ := rl.blocker.Blocked(ctx, ip); blocked {
			rl.logger.Warn().
				Str("type", "security").
				Str("event", "blocked_request").
				Str("ip", ip).
				Str("endpoint", r.URL.Path).
				Msg("blocked IP attempted request")
			jsonError(w, http.StatusForbidden, "temporarily blocked")
			return
		}

		limit, ok := rl.match(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		key := limit.Key(r)
		d, err := rl.allow(ctx, limit, key)
		if err != nil {
			rl.logger.Warn().Err(err).Str("limit", limit.Name).Msg("rate limit check failed")
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit.Requests))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.resetAt.Unix(), 10))

		if !d.allowed {
			retry := max(int(math.Ceil(time.Until(d.resetAt).Seconds())), 1)
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			metrics.RateLimitHits.WithLabelValues(limit.Name).Inc()
			rl.trackViolation(ctx, ip)

			rl.logger.Warn().
				Str("type", "security").
				Str("event", "rate_limit_exceeded").
				Str("ip", ip).
				Str("limit", limit.Name).
				Str("key", key).
				Msg("rate limit exceeded")
			jsonError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// trackViolation blocks an IP once it exceeds limits too often.
func (rl *RateLimiter) trackViolation(ctx context.Context, ip string) {
	if !rl.autoBlock {
		return
	}

	key := "promptsync:violations:" + ip
	var incr *redis.IntCmd
	if _, err := rl.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, violationTTL)
		return nil
	}); err != nil {
		return
	}

	if n := incr.Val(); n >= violationLimit {
		if err := rl.blocker.Block(ctx, ip, blockDuration, "repeated rate limit violations"); err != nil {
			rl.logger.Error().Err(err).Str("ip", ip).Msg("failed to block IP")
			return
		}
		rl.logger.Warn().
			Str("type", "security").
			Str("event", "ip_auto_blocked").
			Str("ip", ip).
			Int64("violations", n).
			Msg("IP auto-blocked for repeated violations")
	}
}

// IPBlocker manages temporary IP blocks.
type IPBlocker struct {
	client *redis.Client
}

// NewIPBlocker creates a new IP blocker.
func NewIPBlocker(client *redis.Client) *IPBlocker {
	return &IPBlocker{client: client}
}

func blockKey(ip string) string {
	return "promptsync:blocked:" + ip
}

// Blocked reports whether ip is currently blocked.
func (b *IPBlocker) Blocked(ctx context.Context, ip string) (bool, error) {
	n, err := b.client.Exists(ctx, blockKey(ip)).Result()
	return n > 0, err
}

// Block blocks ip for d, recording the reason.
func (b *IPBlocker) Block(ctx context.Context, ip string, d time.Duration, reason string) error {
	return b.client.Set(ctx, blockKey(ip), reason, d).Err()
}
