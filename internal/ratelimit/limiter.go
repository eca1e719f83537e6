// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package ratelimit implements the per-IP sliding-window limiter guarding
// the HTTP surface. Each client IP owns a deque of request timestamps
// inside the current window; a request is rejected once the deque reaches
// the configured limit.
package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var rateLimitExceeded = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "fird_ratelimit_exceeded_total",
		Help: "Requests rejected by the sliding-window rate limiter",
	},
	[]string{"path"},
)

// Config holds the sliding-window parameters.
type Config struct {
	Limit  int           // max requests per window per IP
	Window time.Duration // window length
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{Limit: 100, Window: 60 * time.Second}
}

// bucket is one IP's timestamp deque. Timestamps are kept in arrival order;
// pruning pops from the front.
type bucket struct {
	stamps []time.Time
}

// Limiter is the sliding-window limiter. The bucket table is guarded by a
// single mutex; the critical section is O(window entries) per request.
type Limiter struct {
	cfg Config
	now func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket

	lastSweep time.Time
}

// New creates a limiter with the given configuration.
func New(cfg Config) *Limiter {
	if cfg.Limit <= 0 {
		cfg.Limit = 100
	}
	if cfg.Window <= 0 {
		cfg.Window = 60 * time.Second
	}
	return &Limiter{
		cfg:     cfg,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// Allow records a request for the given IP and reports whether it is within
// the limit. Rejected requests are not recorded, so a blocked client does
// not extend its own penalty.
func (l *Limiter) Allow(clientIP string) bool {
	now := l.now()
	cutoff := now.Add(-l.cfg.Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.maybeSweep(now, cutoff)

	b := l.buckets[clientIP]
	if b == nil {
		b = &bucket{}
		l.buckets[clientIP] = b
	}

	// Purge entries that have slid out of the window.
	i := 0
	for i < len(b.stamps) && !b.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		b.stamps = append(b.stamps[:0], b.stamps[i:]...)
	}

	if len(b.stamps) >= l.cfg.Limit {
		return false
	}
	b.stamps = append(b.stamps, now)
	return true
}

// maybeSweep drops empty buckets whose window has fully passed. Runs at
// most once per window to keep the common path cheap. Caller holds the lock.
func (l *Limiter) maybeSweep(now, cutoff time.Time) {
	if now.Sub(l.lastSweep) < l.cfg.Window {
		return
	}
	l.lastSweep = now
	for ip, b := range l.buckets {
		if len(b.stamps) == 0 || !b.stamps[len(b.stamps)-1].After(cutoff) {
			delete(l.buckets, ip)
		}
	}
}

// Limit returns the configured per-window request limit.
func (l *Limiter) Limit() int { return l.cfg.Limit }

// Window returns the configured window length.
func (l *Limiter) Window() time.Duration { return l.cfg.Window }

// RecordRejection counts one rejected request for metrics.
func RecordRejection(path string) {
	rateLimitExceeded.WithLabelValues(path).Inc()
}

// GetClientIP derives the client address for rate limiting and audit logs.
// Forwarded headers are only honoured when the direct peer is a trusted
// proxy; otherwise a client could spoof its way past the limiter.
// Order: first X-Forwarded-For entry, then X-Real-IP, then the socket peer.
func GetClientIP(r *http.Request, trustedProxies []*net.IPNet) string {
	peer := remoteIP(r)

	if !proxyTrusted(peer, trustedProxies) {
		return peer
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// X-Forwarded-For can contain multiple IPs: "client, proxy1, proxy2"
		first := xff
		if idx := strings.IndexByte(xff, ','); idx >= 0 {
			first = xff[:idx]
		}
		if ip := strings.TrimSpace(first); net.ParseIP(ip) != nil {
			return ip
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		if net.ParseIP(xri) != nil {
			return xri
		}
	}

	return peer
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func proxyTrusted(peer string, trusted []*net.IPNet) bool {
	if len(trusted) == 0 {
		return false
	}
	ip := net.ParseIP(peer)
	if ip == nil {
		return false
	}
	for _, cidr := range trusted {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

// ParseTrustedProxies parses CIDR strings; bare IPs get a host mask.
func ParseTrustedProxies(entries []string) []*net.IPNet {
	var out []*net.IPNet
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if _, cidr, err := net.ParseCIDR(entry); err == nil {
			out = append(out, cidr)
			continue
		}
		if ip := net.ParseIP(entry); ip != nil {
			bits := 32
			if ip.To4() == nil {
				bits = 128
			}
			out = append(out, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
		}
	}
	return out
}
