// Package auth mints and validates LSNP authorization tokens.
//
// A token is the literal "subject|expiry_epoch|scope". It is a capability
// claim bound to the sender's user id, not a cryptographic credential.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/ZentaChain/lsnp-node/pkg/protocol"
)

var log = logging.Logger("lsnp/auth")

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrMalformed    = errors.New("malformed token")
)

// Token is a parsed authorization token
type Token struct {
	Subject string
	Expiry  time.Time
	Scope   protocol.Scope
}

// String returns the wire literal
func (t Token) String() string {
	return fmt.Sprintf("%s|%d|%s", t.Subject, t.Expiry.Unix(), t.Scope)
}

// ParseToken parses a token literal
func ParseToken(literal string) (Token, error) {
	parts := strings.Split(strings.TrimSpace(literal), "|")
	if len(parts) != 3 {
		return Token{}, fmt.Errorf("%w: expected 3 parts, got %d", ErrMalformed, len(parts))
	}

	subject := strings.TrimSpace(parts[0])
	if subject == "" {
		return Token{}, fmt.Errorf("%w: empty subject", ErrMalformed)
	}

	expiry, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil {
		return Token{}, fmt.Errorf("%w: bad expiry %q", ErrMalformed, parts[1])
	}

	scope := protocol.Scope(strings.TrimSpace(parts[2]))
	if scope == "" {
		return Token{}, fmt.Errorf("%w: empty scope", ErrMalformed)
	}

	return Token{Subject: subject, Expiry: time.Unix(expiry, 0), Scope: scope}, nil
}

// Authority mints tokens for the local peer and validates inbound ones
type Authority struct {
	ttl   time.Duration
	clock func() time.Time

	revoked map[string]struct{}
	mu      sync.RWMutex
}

// Option configures an Authority
type Option func(*Authority)

// WithClock overrides the time source
func WithClock(clock func() time.Time) Option {
	return func(a *Authority) {
		a.clock = clock
	}
}

// NewAuthority creates a new token authority
func NewAuthority(ttl time.Duration, opts ...Option) *Authority {
	if ttl <= 0 {
		ttl = protocol.DefaultTokenTTL
	}
	a := &Authority{
		ttl:     ttl,
		clock:   time.Now,
		revoked: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// TTL returns the validity window of minted tokens
func (a *Authority) TTL() time.Duration {
	return a.ttl
}

// Mint creates a token for subject valid for the configured TTL
func (a *Authority) Mint(subject string, scope protocol.Scope) Token {
	return Token{
		Subject: subject,
		Expiry:  a.clock().Add(a.ttl),
		Scope:   scope,
	}
}

// Validate checks a token literal against the sender and the scope the
// message type requires. Checks run in order: well formed, subject matches
// sender, not expired, scope matches, not revoked.
func (a *Authority) Validate(literal, sender string, expected protocol.Scope) error {
	if literal == "" {
		return fmt.Errorf("%w: missing token", ErrUnauthorized)
	}

	tok, err := ParseToken(literal)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	if tok.Subject != sender {
		return fmt.Errorf("%w: token subject %s does not match sender %s", ErrUnauthorized, tok.Subject, sender)
	}

	if now := a.clock(); now.Unix() > tok.Expiry.Unix() {
		return fmt.Errorf("%w: token expired at %d", ErrUnauthorized, tok.Expiry.Unix())
	}

	if tok.Scope != expected {
		return fmt.Errorf("%w: scope %s, want %s", ErrUnauthorized, tok.Scope, expected)
	}

	if a.IsRevoked(literal) {
		return fmt.Errorf("%w: token revoked", ErrUnauthorized)
	}

	return nil
}

// Revoke adds a token literal to the local revocation list
func (a *Authority) Revoke(literal string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.revoked[strings.TrimSpace(literal)] = struct{}{}
	log.Debugf("revoked token %s", literal)
}

// IsRevoked reports whether a token literal has been revoked
func (a *Authority) IsRevoked(literal string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.revoked[strings.TrimSpace(literal)]
	return ok
}
