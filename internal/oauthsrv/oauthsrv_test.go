package oauthsrv

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memStore struct {
	clients       map[string]Client
	codes         map[string]AuthCode
	refreshTokens map[string]RefreshToken
}

func newMemStore() *memStore {
	return &memStore{
		clients:       map[string]Client{},
		codes:         map[string]AuthCode{},
		refreshTokens: map[string]RefreshToken{},
	}
}

func (s *memStore) CreateClient(ctx context.Context, c Client) error {
	s.clients[c.ClientID] = c
	return nil
}
func (s *memStore) GetClient(ctx context.Context, clientID string) (*Client, error) {
	c, ok := s.clients[clientID]
	if !ok {
		return nil, newOAuthError("invalid_client", "unknown client")
	}
	return &c, nil
}
func (s *memStore) CreateAuthCode(ctx context.Context, code AuthCode) error {
	s.codes[code.Code] = code
	return nil
}
func (s *memStore) ConsumeAuthCode(ctx context.Context, code string) (*AuthCode, error) {
	c, ok := s.codes[code]
	if !ok {
		return nil, newOAuthError("invalid_grant", "not found")
	}
	delete(s.codes, code)
	return &c, nil
}
func (s *memStore) CreateRefreshToken(ctx context.Context, token RefreshToken) error {
	s.refreshTokens[token.Token] = token
	return nil
}
func (s *memStore) GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error) {
	t, ok := s.refreshTokens[token]
	if !ok {
		return nil, newOAuthError("invalid_grant", "not found")
	}
	return &t, nil
}
func (s *memStore) RevokeRefreshToken(ctx context.Context, token string) error {
	delete(s.refreshTokens, token)
	return nil
}

func TestExchangeAuthorizationCode_S256PKCE_Succeeds(t *testing.T) {
	store := newMemStore()
	issuer := NewTokenIssuer([]byte("test-signing-key"), time.Hour, 30*24*time.Hour, store)

	verifier := "test-verifier-1234567890"
	sum := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])

	require.NoError(t, store.CreateAuthCode(context.Background(), AuthCode{
		Code:                "code-1",
		ClientID:            "client-1",
		UserID:              "user-1",
		RedirectURI:         "https://client.example/callback",
		CodeChallenge:       challenge,
		CodeChallengeMethod: "S256",
		ExpiresAt:           time.Now().Add(time.Minute),
	}))

	resp, err := issuer.ExchangeAuthorizationCode(context.Background(), "client-1", "code-1", "https://client.example/callback", verifier)
	require.NoError(t, err)
	require.NotEmpty(t, resp.AccessToken)
	require.NotEmpty(t, resp.RefreshToken)
}

func TestExchangeAuthorizationCode_WrongVerifier_Fails(t *testing.T) {
	store := newMemStore()
	issuer := NewTokenIssuer([]byte("test-signing-key"), time.Hour, 30*24*time.Hour, store)

	sum := sha256.Sum256([]byte("correct-verifier"))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])

	require.NoError(t, store.CreateAuthCode(context.Background(), AuthCode{
		Code: "code-1", ClientID: "client-1", UserID: "user-1",
		RedirectURI: "https://client.example/callback",
		CodeChallenge: challenge, CodeChallengeMethod: "S256",
		ExpiresAt: time.Now().Add(time.Minute),
	}))

	_, err := issuer.ExchangeAuthorizationCode(context.Background(), "client-1", "code-1", "https://client.example/callback", "wrong-verifier")
	require.Error(t, err)
}

func TestExchangeAuthorizationCode_ExpiredCode_Fails(t *testing.T) {
	store := newMemStore()
	issuer := NewTokenIssuer([]byte("test-signing-key"), time.Hour, 30*24*time.Hour, store)

	require.NoError(t, store.CreateAuthCode(context.Background(), AuthCode{
		Code: "code-1", ClientID: "client-1", UserID: "user-1",
		RedirectURI: "https://client.example/callback",
		ExpiresAt:   time.Now().Add(-time.Minute),
	}))

	_, err := issuer.ExchangeAuthorizationCode(context.Background(), "client-1", "code-1", "https://client.example/callback", "")
	require.Error(t, err)
}

func TestExchangeRefreshToken_RotatesToken(t *testing.T) {
	store := newMemStore()
	issuer := NewTokenIssuer([]byte("test-signing-key"), time.Hour, 30*24*time.Hour, store)

	require.NoError(t, store.CreateRefreshToken(context.Background(), RefreshToken{
		Token: "rt-1", ClientID: "client-1", UserID: "user-1", ExpiresAt: time.Now().Add(time.Hour),
	}))

	resp, err := issuer.ExchangeRefreshToken(context.Background(), "client-1", "rt-1")
	require.NoError(t, err)
	require.NotEqual(t, "rt-1", resp.RefreshToken)

	_, err = store.GetRefreshToken(context.Background(), "rt-1")
	require.Error(t, err, "old refresh token should be revoked")
}

func TestRegisterClient_RequiresRedirectURIs(t *testing.T) {
	store := newMemStore()
	_, err := RegisterClient(context.Background(), store, RegistrationRequest{ClientName: "test"})
	require.Error(t, err)
}

func TestRegisterClient_SecretVerifiesAgainstHash(t *testing.T) {
	store := newMemStore()
	resp, err := RegisterClient(context.Background(), store, RegistrationRequest{
		ClientName:   "test",
		RedirectURIs: []string{"https://client.example/callback"},
	})
	require.NoError(t, err)

	client, err := store.GetClient(context.Background(), resp.ClientID)
	require.NoError(t, err)
	require.True(t, VerifyClientSecret(client, resp.ClientSecret))
	require.False(t, VerifyClientSecret(client, "wrong-secret"))
}
