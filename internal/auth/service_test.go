package auth

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridexhq/veridex/internal/crypto"
	"github.com/veridexhq/veridex/internal/domain"
)

// In-memory doubles for the Redis-backed caches.

type memNonces struct {
	mu sync.Mutex
	m  map[string]string
}

func (n *memNonces) Put(ctx context.Context, address, nonce string, ttl time.Duration) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.m[address] = nonce
	return nil
}

func (n *memNonces) Consume(ctx context.Context, address string) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	nonce, ok := n.m[address]
	if !ok {
		return "", domain.ErrNonceInvalid
	}
	delete(n.m, address)
	return nonce, nil
}

type memSessions struct {
	mu sync.Mutex
	m  map[string]domain.Session
}

func (s *memSessions) Put(ctx context.Context, sess domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[sess.ID] = sess
	return nil
}

func (s *memSessions) Get(ctx context.Context, id string) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.m[id]
	if !ok {
		return domain.Session{}, domain.ErrNotFound
	}
	return sess, nil
}

func (s *memSessions) Revoke(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, id)
	return nil
}

type memUsers struct {
	mu sync.Mutex
	m  map[string]time.Time
}

func (u *memUsers) Upsert(ctx context.Context, address string, seenAt time.Time) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.m[address] = seenAt
	return nil
}

func (u *memUsers) Get(ctx context.Context, address string) (domain.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	seen, ok := u.m[address]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return domain.User{Address: address, LastSeenAt: seen}, nil
}

const devKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func newTestService(t *testing.T) (*Service, *crypto.Signer, *memUsers, *memSessions) {
	t.Helper()
	signer, err := crypto.NewSigner(devKey, 84532)
	require.NoError(t, err)

	users := &memUsers{m: map[string]time.Time{}}
	sessions := &memSessions{m: map[string]domain.Session{}}
	svc := NewService(
		&memNonces{m: map[string]string{}},
		sessions,
		users,
		"test-secret",
		time.Hour,
		slog.New(slog.DiscardHandler),
	)
	return svc, signer, users, sessions
}

func TestSignInFlow(t *testing.T) {
	ctx := context.Background()
	svc, signer, users, _ := newTestService(t)
	addr := signer.Address().Hex()

	nonce, message, err := svc.IssueNonce(ctx, addr)
	require.NoError(t, err)
	assert.Len(t, nonce, 32)
	assert.Contains(t, message, nonce)

	sig, err := signer.SignPersonal([]byte(message))
	require.NoError(t, err)

	token, session, err := svc.Verify(ctx, addr, sig)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, session.Address, "0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266")

	// The user row was upserted.
	_, err = users.Get(ctx, session.Address)
	require.NoError(t, err)

	// The token validates to the same address.
	got, err := svc.Validate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, session.Address, got)
}

func TestNonceIsSingleUse(t *testing.T) {
	ctx := context.Background()
	svc, signer, _, _ := newTestService(t)
	addr := signer.Address().Hex()

	_, message, err := svc.IssueNonce(ctx, addr)
	require.NoError(t, err)
	sig, err := signer.SignPersonal([]byte(message))
	require.NoError(t, err)

	_, _, err = svc.Verify(ctx, addr, sig)
	require.NoError(t, err)

	// Replay with the same signature: the nonce is gone.
	_, _, err = svc.Verify(ctx, addr, sig)
	assert.ErrorIs(t, err, domain.ErrNonceInvalid)
}

func TestVerifyRejectsWrongSigner(t *testing.T) {
	ctx := context.Background()
	svc, signer, _, _ := newTestService(t)

	other, err := crypto.NewSigner("59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d", 84532)
	require.NoError(t, err)

	addr := signer.Address().Hex()
	_, message, err := svc.IssueNonce(ctx, addr)
	require.NoError(t, err)

	// Signed by a different wallet.
	sig, err := other.SignPersonal([]byte(message))
	require.NoError(t, err)

	_, _, err = svc.Verify(ctx, addr, sig)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	// The failed attempt consumed the nonce.
	_, _, err = svc.Verify(ctx, addr, sig)
	assert.ErrorIs(t, err, domain.ErrNonceInvalid)
}

func TestValidateRejectsRevokedSession(t *testing.T) {
	ctx := context.Background()
	svc, signer, _, _ := newTestService(t)
	addr := signer.Address().Hex()

	_, message, err := svc.IssueNonce(ctx, addr)
	require.NoError(t, err)
	sig, err := signer.SignPersonal([]byte(message))
	require.NoError(t, err)
	token, _, err := svc.Verify(ctx, addr, sig)
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, token))

	_, err = svc.Validate(ctx, token)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestValidateRejectsGarbage(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	_, err := svc.Validate(context.Background(), "not.a.token")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestIssueNonceRejectsBadAddress(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	_, _, err := svc.IssueNonce(context.Background(), "banana")
	assert.Error(t, err)
}
