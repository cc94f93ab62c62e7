// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package api

import (
	"crypto/subtle"
	"errors"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var (
	// ErrAuthenticationFailed is returned when token validation fails.
	ErrAuthenticationFailed = errors.New("facade: authentication failed")

	// ErrRateLimitExceeded is returned when a remote IP has too many recent
	// failed control-endpoint attempts.
	ErrRateLimitExceeded = errors.New("facade: rate limit exceeded")
)

const (
	// MaxFailedAttempts is the token-bucket burst: how many failed attempts
	// an IP may make before being locked out.
	MaxFailedAttempts = 5

	// RateLimitLockout is how long it takes an exhausted bucket to refill
	// completely: one token returns every RateLimitLockout/MaxFailedAttempts
	// (12s), approximating the lockout window.
	RateLimitLockout = 60 * time.Second

	limiterIdleTTL = 10 * time.Minute
)

// limiterEntry pairs a token bucket with the last time it was touched, so
// the cleanup loop can evict limiters for IPs that haven't been seen in a
// while instead of growing the map forever.
type limiterEntry struct {
	limiter   *rate.Limiter
	lastTouch time.Time
}

// TokenValidator validates the façade's control-token header against the
// configured bearer token, rate-limiting repeated failures per remote IP
// with a token bucket instead of hand-tracked windows.
type TokenValidator struct {
	token string

	mu            sync.Mutex
	limiters      map[string]*limiterEntry
	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	closed        bool
}

// NewTokenValidator creates a validator for the given expected token.
func NewTokenValidator(token string) *TokenValidator {
	v := &TokenValidator{
		token:         token,
		limiters:      make(map[string]*limiterEntry),
		cleanupTicker: time.NewTicker(1 * time.Minute),
		stopCleanup:   make(chan struct{}),
	}
	go v.cleanupLoop()
	return v
}

func (v *TokenValidator) limiterFor(ip string) *rate.Limiter {
	v.mu.Lock()
	defer v.mu.Unlock()

	e, ok := v.limiters[ip]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rate.Every(RateLimitLockout/MaxFailedAttempts), MaxFailedAttempts)}
		v.limiters[ip] = e
	}
	e.lastTouch = time.Now()
	return e.limiter
}

// Validate checks token against the expected value using constant-time
// comparison, consuming one rate-limit token from remoteAddr's bucket only
// on failure. A successful validation never costs a token, so well-behaved
// callers are never throttled.
func (v *TokenValidator) Validate(token, remoteAddr string) error {
	ip, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		ip = remoteAddr
	}

	limiter := v.limiterFor(ip)
	if limiter.Tokens() < 1 {
		return ErrRateLimitExceeded
	}

	if subtle.ConstantTimeCompare([]byte(token), []byte(v.token)) != 1 {
		limiter.Allow() // consume a token for the failure
		return ErrAuthenticationFailed
	}

	return nil
}

func (v *TokenValidator) cleanupLoop() {
	for {
		select {
		case <-v.cleanupTicker.C:
			v.cleanup()
		case <-v.stopCleanup:
			return
		}
	}
}

func (v *TokenValidator) cleanup() {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := time.Now()
	for ip, e := range v.limiters {
		if now.Sub(e.lastTouch) > limiterIdleTTL {
			delete(v.limiters, ip)
		}
	}
}

// Close stops the cleanup goroutine. Safe to call more than once.
func (v *TokenValidator) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return
	}
	v.closed = true
	v.cleanupTicker.Stop()
	close(v.stopCleanup)
}
