// Package auth implements sign-in-with-wallet: nonce issuance, EIP-191
// signature verification, and JWT session tokens.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/veridexhq/veridex/internal/crypto"
	"github.com/veridexhq/veridex/internal/domain"
)

// nonceTTL bounds how long an issued nonce stays redeemable.
const nonceTTL = 5 * time.Minute

const signInMessageTmpl = "veridex wants you to sign in with your wallet:\n%s\n\nNonce: %s"

// Claims are the JWT payload for an authenticated session.
type Claims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// Service issues nonces, verifies wallet signatures, and manages sessions.
type Service struct {
	nonces     domain.NonceCache
	sessions   domain.SessionStore
	users      domain.UserStore
	jwtSecret  []byte
	sessionTTL time.Duration
	logger     *slog.Logger
}

// NewService creates the auth service.
func NewService(nonces domain.NonceCache, sessions domain.SessionStore, users domain.UserStore, jwtSecret string, sessionTTL time.Duration, logger *slog.Logger) *Service {
	if sessionTTL <= 0 {
		sessionTTL = 24 * time.Hour
	}
	return &Service{
		nonces:     nonces,
		sessions:   sessions,
		users:      users,
		jwtSecret:  []byte(jwtSecret),
		sessionTTL: sessionTTL,
		logger:     logger.With(slog.String("component", "auth")),
	}
}

// NormalizeAddress validates and lowercases a wallet address.
func NormalizeAddress(address string) (string, error) {
	if !common.IsHexAddress(address) {
		return "", fmt.Errorf("auth: invalid address %q", address)
	}
	return strings.ToLower(common.HexToAddress(address).Hex()), nil
}

// SignInMessage renders the canonical text a wallet must sign for the given
// address and nonce.
func SignInMessage(address, nonce string) string {
	return fmt.Sprintf(signInMessageTmpl, address, nonce)
}

// IssueNonce creates a fresh 16-byte hex nonce for the address, stores it
// with a TTL, and returns the nonce together with the message to sign. A
// repeat call replaces any earlier unredeemed nonce.
func (s *Service) IssueNonce(ctx context.Context, address string) (nonce, message string, err error) {
	addr, err := NormalizeAddress(address)
	if err != nil {
		return "", "", err
	}

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("auth: generate nonce: %w", err)
	}
	nonce = hex.EncodeToString(buf)

	if err := s.nonces.Put(ctx, addr, nonce, nonceTTL); err != nil {
		return "", "", err
	}
	return nonce, SignInMessage(addr, nonce), nil
}

// Verify redeems the pending nonce for the address, checks that signature is
// the wallet's EIP-191 signature over the sign-in message, upserts the user,
// and returns a signed session token. The nonce is consumed regardless of
// whether verification succeeds, so a failed attempt cannot be retried with
// the same nonce.
func (s *Service) Verify(ctx context.Context, address, signature string) (string, domain.Session, error) {
	addr, err := NormalizeAddress(address)
	if err != nil {
		return "", domain.Session{}, err
	}

	nonce, err := s.nonces.Consume(ctx, addr)
	if err != nil {
		return "", domain.Session{}, err
	}

	recovered, err := crypto.RecoverPersonal([]byte(SignInMessage(addr, nonce)), signature)
	if err != nil {
		return "", domain.Session{}, fmt.Errorf("auth: %w: %v", domain.ErrUnauthorized, err)
	}
	if !strings.EqualFold(recovered.Hex(), addr) {
		return "", domain.Session{}, fmt.Errorf("auth: signature from %s, want %s: %w",
			strings.ToLower(recovered.Hex()), addr, domain.ErrUnauthorized)
	}

	now := time.Now().UTC()
	if err := s.users.Upsert(ctx, addr, now); err != nil {
		return "", domain.Session{}, err
	}

	session := domain.Session{
		ID:        uuid.NewString(),
		Address:   addr,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.sessionTTL),
	}
	if err := s.sessions.Put(ctx, session); err != nil {
		return "", domain.Session{}, err
	}

	token, err := s.signToken(session)
	if err != nil {
		return "", domain.Session{}, err
	}

	s.logger.InfoContext(ctx, "wallet signed in", slog.String("address", addr))
	return token, session, nil
}

// Validate checks the token's signature and expiry and confirms the backing
// session record still exists. It returns the authenticated address.
func (s *Service) Validate(ctx context.Context, token string) (string, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil || !parsed.Valid {
		return "", domain.ErrUnauthorized
	}

	session, err := s.sessions.Get(ctx, claims.SessionID)
	if err != nil {
		return "", domain.ErrUnauthorized
	}
	if session.Address != claims.Subject {
		return "", domain.ErrUnauthorized
	}
	return session.Address, nil
}

// Revoke invalidates the session behind a token. Invalid tokens are a no-op.
func (s *Service) Revoke(ctx context.Context, token string) error {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return s.jwtSecret, nil
	})
	if err != nil || !parsed.Valid {
		return nil
	}
	return s.sessions.Revoke(ctx, claims.SessionID)
}

func (s *Service) signToken(session domain.Session) (string, error) {
	claims := Claims{
		SessionID: session.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   session.Address,
			IssuedAt:  jwt.NewNumericDate(session.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return token, nil
}
