package middleware

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"proofpay/utils"
)

// In-memory sliding-window limiters with trusted-proxy support. Memory only;
// a multi-instance deployment would move the counters to Redis.

type timestamps []int64 // unix nanos

func nowUnix() int64 { return time.Now().UnixNano() }

func getEnvInt(key string, def int) int {
	if s := os.Getenv(key); s != "" {
		if v, err := strconv.Atoi(s); err == nil {
			return v
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if s := os.Getenv(key); s != "" {
		if v, err := strconv.Atoi(s); err == nil {
			return time.Duration(v) * time.Second
		}
	}
	return def
}

// IPRateLimiter applies per-IP windows; used in front of unauthenticated
// surfaces (cron, health, webhook fallback).
type IPRateLimiter struct {
	window      time.Duration
	mu          sync.Mutex
	state       map[string]timestamps
	cleanupTick time.Duration
	trustedCIDR []string
	maxReq      int
}

func NewIPRateLimiter(maxReq int, window time.Duration) *IPRateLimiter {
	l := &IPRateLimiter{
		window:      window,
		state:       make(map[string]timestamps),
		cleanupTick: getEnvDuration("RATE_CLEANUP_SECONDS", 60*time.Second),
		maxReq:      maxReq,
	}
	if v := os.Getenv("TRUSTED_PROXIES"); v != "" {
		l.trustedCIDR = strings.Split(v, ",")
	}
	go l.cleanupLoop()
	return l
}

// clientIPGeneric returns the client IP string. X-Forwarded-For / X-Real-IP
// are honored only when the remote address is inside one of the trusted CIDRs
// or IPs.
func clientIPGeneric(r *http.Request, trustedCIDR []string) string {
	remoteHost, _, _ := net.SplitHostPort(r.RemoteAddr)
	remoteIP := net.ParseIP(remoteHost)
	trusted := false
	for _, cidr := range trustedCIDR {
		cidr = strings.TrimSpace(cidr)
		if cidr == "" {
			continue
		}
		if strings.Contains(cidr, "/") {
			if _, ipnet, err := net.ParseCIDR(cidr); err == nil {
				if remoteIP != nil && ipnet.Contains(remoteIP) {
					trusted = true
					break
				}
			}
			continue
		}
		if ip := net.ParseIP(cidr); ip != nil && remoteIP != nil && ip.Equal(remoteIP) {
			trusted = true
			break
		}
	}
	if trusted {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			if len(parts) > 0 {
				return strings.TrimSpace(parts[0])
			}
		}
		if xr := r.Header.Get("X-Real-IP"); xr != "" {
			return strings.TrimSpace(xr)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// record appends now to the key's window and returns the in-window count plus
// the seconds until the oldest entry expires.
func record(state map[string]timestamps, key string, now, windowNs int64) (int, int) {
	arr := state[key]
	cutoff := now - windowNs
	var filtered timestamps
	oldest := now
	for _, ts := range arr {
		if ts >= cutoff {
			filtered = append(filtered, ts)
			if ts < oldest {
				oldest = ts
			}
		}
	}
	filtered = append(filtered, now)
	state[key] = filtered
	retryAfter := int((oldest + windowNs - now) / 1e9)
	if retryAfter < 1 {
		retryAfter = 1
	}
	return len(filtered), retryAfter
}

func writeTooMany(w http.ResponseWriter, retryAfter int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"message": "Too many requests, try again later",
		"data":    map[string]interface{}{"retry_after_seconds": retryAfter},
	})
}

func (l *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIPGeneric(r, l.trustedCIDR)

		l.mu.Lock()
		count, retryAfter := record(l.state, ip, nowUnix(), int64(l.window))
		l.mu.Unlock()

		limit := l.maxReq
		if limit <= 0 {
			limit = getEnvInt("RATE_IP_DEFAULT", 200)
		}
		remaining := limit - count
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", limit))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))

		if count > limit {
			writeTooMany(w, retryAfter)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *IPRateLimiter) cleanupLoop() {
	tick := time.NewTicker(l.cleanupTick)
	defer tick.Stop()
	for range tick.C {
		l.mu.Lock()
		now := nowUnix()
		for k, arr := range l.state {
			cutoff := now - int64(l.window)
			var filtered timestamps
			for _, ts := range arr {
				if ts >= cutoff {
					filtered = append(filtered, ts)
				}
			}
			if len(filtered) == 0 {
				delete(l.state, k)
			} else {
				l.state[k] = filtered
			}
		}
		l.mu.Unlock()
	}
}

// AddrRateLimiter applies per-address windows behind auth, with separate read
// and write budgets (commands are ledger submissions, reads are cheap).
type AddrRateLimiter struct {
	mu          sync.Mutex
	state       map[string]timestamps
	window      time.Duration
	cleanupTick time.Duration
	maxRead     int
	maxWrite    int
}

func NewAddrRateLimiter(maxRead, maxWrite int, windowSec int) *AddrRateLimiter {
	l := &AddrRateLimiter{
		state:       make(map[string]timestamps),
		window:      time.Duration(windowSec) * time.Second,
		cleanupTick: getEnvDuration("RATE_CLEANUP_SECONDS", 60*time.Second),
		maxRead:     maxRead,
		maxWrite:    maxWrite,
	}
	go l.cleanupLoop()
	return l
}

func (l *AddrRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr, ok := utils.GetUserAddr(r)
		if !ok {
			// Unauthenticated endpoints fall through to the IP limiter.
			next.ServeHTTP(w, r)
			return
		}
		if role, _ := r.Context().Value(utils.UserRoleKey).(string); role == "admin" {
			next.ServeHTTP(w, r)
			return
		}

		kind := "r"
		limit := l.maxRead
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			kind = "w"
			limit = l.maxWrite
		}
		key := "a:" + addr + ":" + kind

		l.mu.Lock()
		count, retryAfter := record(l.state, key, nowUnix(), int64(l.window))
		l.mu.Unlock()

		remaining := limit - count
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", limit))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))

		if count > limit {
			writeTooMany(w, retryAfter)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *AddrRateLimiter) cleanupLoop() {
	tick := time.NewTicker(l.cleanupTick)
	defer tick.Stop()
	for range tick.C {
		l.mu.Lock()
		now := nowUnix()
		for k, arr := range l.state {
			cutoff := now - int64(l.window)
			var filtered timestamps
			for _, ts := range arr {
				if ts >= cutoff {
					filtered = append(filtered, ts)
				}
			}
			if len(filtered) == 0 {
				delete(l.state, k)
			} else {
				l.state[k] = filtered
			}
		}
		l.mu.Unlock()
	}
}

// WebhookLimiter guards the ledger-event callback: whitelisted relay IPs
// bypass it, everyone else gets a sliding window.
type WebhookLimiter struct {
	maxReq    int
	window    time.Duration
	whitelist map[string]bool
	mu        sync.Mutex
	state     map[string]timestamps
}

func NewWebhookLimiter(maxReq int, window time.Duration, whitelist []string) *WebhookLimiter {
	wl := make(map[string]bool)
	for _, ip := range whitelist {
		wl[ip] = true
	}
	return &WebhookLimiter{
		maxReq:    maxReq,
		window:    window,
		whitelist: wl,
		state:     make(map[string]timestamps),
	}
}

func (l *WebhookLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIPGeneric(r, nil)
		if l.whitelist[ip] {
			next.ServeHTTP(w, r)
			return
		}
		l.mu.Lock()
		count, retryAfter := record(l.state, ip, nowUnix(), int64(l.window))
		l.mu.Unlock()
		if count > l.maxReq {
			writeTooMany(w, retryAfter)
			return
		}
		next.ServeHTTP(w, r)
	})
}
