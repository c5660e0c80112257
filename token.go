package castellan

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DevSecret is the well-known development signing secret. It is rejected
// in production; set CASTELLAN_ENV=development to allow it locally.
const DevSecret = "dev-secret-do-not-use-in-prod"

// DefaultTokenMaxAge bounds how long a signed approval token stays valid.
const DefaultTokenMaxAge = 300 * time.Second

// UsedTokenStore is the single-use set behind VerifyAndConsume.
// MarkUsed must be an atomic set-if-absent: it returns true when the token
// was inserted, false when it was already present. The in-memory default
// is correct for a single process; multi-process deployments substitute
// store/sqlite or store/postgres.
type UsedTokenStore interface {
	MarkUsed(ctx context.Context, token string, expiresAt int64) (bool, error)
}

// TokenManager produces and verifies short-lived, single-use approval
// tokens bound to an opaque payload string. The runtime always passes
// "thread_id:user_id:approval_hash"; mixing payload formats elsewhere
// is a bug.
//
// Token format: v1.<unix_ts>.<nonce_hex>.<hmac_sha256_hex>, where the MAC
// covers "<ts>:<nonce>:<payload>".
type TokenManager struct {
	secret []byte
	used   UsedTokenStore
	maxAge time.Duration
}

// TokenOption configures a TokenManager.
type TokenOption func(*TokenManager)

// WithUsedTokenStore replaces the in-memory single-use set.
func WithUsedTokenStore(s UsedTokenStore) TokenOption {
	return func(m *TokenManager) { m.used = s }
}

// WithTokenMaxAge overrides the default token validity window.
func WithTokenMaxAge(d time.Duration) TokenOption {
	return func(m *TokenManager) {
		if d > 0 {
			m.maxAge = d
		}
	}
}

// NewTokenManager validates the signing secret and builds a manager.
// An empty secret is always rejected. A secret shorter than 32 characters,
// or equal to DevSecret, is rejected unless CASTELLAN_ENV=development.
func NewTokenManager(secret string, opts ...TokenOption) (*TokenManager, error) {
	if secret == "" {
		return nil, &ErrSecret{Message: "empty"}
	}
	dev := os.Getenv("CASTELLAN_ENV") == "development"
	if !dev {
		if secret == DevSecret {
			return nil, &ErrSecret{Message: "development sentinel used outside development"}
		}
		if len(secret) < 32 {
			return nil, &ErrSecret{Message: fmt.Sprintf("too short (%d chars, need 32)", len(secret))}
		}
	}
	m := &TokenManager{
		secret: []byte(secret),
		used:   newMemoryTokenStore(),
		maxAge: DefaultTokenMaxAge,
	}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

// Sign issues a fresh token for payload with the current timestamp and a
// random 16-hex-digit nonce.
func (m *TokenManager) Sign(payload string) string {
	ts := NowUnix()
	var raw [8]byte
	if _, err := rand.Read(raw[:]); err != nil {
		panic(fmt.Sprintf("token: nonce: %v", err))
	}
	nonce := hex.EncodeToString(raw[:])
	return fmt.Sprintf("v1.%d.%s.%s", ts, nonce, m.mac(ts, nonce, payload))
}

// VerifyAndConsume checks a token against the caller-supplied payload and
// marks it used, all-or-nothing. Any failure (format, version, age, MAC,
// replay) returns false without consuming the token.
func (m *TokenManager) VerifyAndConsume(ctx context.Context, token, payload string) bool {
	parts := strings.Split(token, ".")
	if len(parts) != 4 || parts[0] != "v1" {
		return false
	}
	ts, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return false
	}
	age := NowUnix() - ts
	if age < 0 || age > int64(m.maxAge/time.Second) {
		return false
	}
	want := m.mac(ts, parts[2], payload)
	if subtle.ConstantTimeCompare([]byte(want), []byte(parts[3])) != 1 {
		return false
	}
	inserted, err := m.used.MarkUsed(ctx, token, ts+int64(m.maxAge/time.Second))
	if err != nil {
		return false
	}
	return inserted
}

func (m *TokenManager) mac(ts int64, nonce, payload string) string {
	h := hmac.New(sha256.New, m.secret)
	fmt.Fprintf(h, "%d:%s:%s", ts, nonce, payload)
	return hex.EncodeToString(h.Sum(nil))
}

// --- in-memory single-use set ---

// memoryTokenStore is the default UsedTokenStore: a locked map from token
// to expiry, with opportunistic cleanup on each insert.
type memoryTokenStore struct {
	mu   sync.Mutex
	used map[string]int64
}

func newMemoryTokenStore() *memoryTokenStore {
	return &memoryTokenStore{used: make(map[string]int64)}
}

var _ UsedTokenStore = (*memoryTokenStore)(nil)

func (s *memoryTokenStore) MarkUsed(_ context.Context, token string, expiresAt int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := NowUnix()
	for t, exp := range s.used {
		if exp < now {
			delete(s.used, t)
		}
	}
	if _, exists := s.used[token]; exists {
		return false, nil
	}
	s.used[token] = expiresAt
	return true, nil
}
