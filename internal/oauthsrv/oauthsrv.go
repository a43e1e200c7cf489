// Package oauthsrv implements OAuth 2.1 authorization-code and
// refresh-token grants with PKCE, plus dynamic client registration. The
// HTTP route shapes live in internal/httpapi; this package holds the
// protocol logic and storage contract.
package oauthsrv

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// OAuthError is the {error, error_description} body shape every failure
// mode in this package returns, matching the standard OAuth error names.
type OAuthError struct {
	Code        string
	Description string
}

func (e *OAuthError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Description) }

func newOAuthError(code, description string) *OAuthError {
	return &OAuthError{Code: code, Description: description}
}

// Client is a dynamically registered OAuth client.
type Client struct {
	ClientID     string
	SecretHash   string
	Name         string
	RedirectURIs []string
	GrantTypes   []string
	Scopes       []string
	CreatedAt    time.Time
}

// AuthCode is an issued authorization code awaiting exchange.
type AuthCode struct {
	Code                string
	ClientID            string
	UserID              string
	RedirectURI          string
	Scope               string
	CodeChallenge        string
	CodeChallengeMethod string // "S256" or "plain"
	ExpiresAt           time.Time
}

// RefreshToken is an issued refresh token.
type RefreshToken struct {
	Token     string
	ClientID  string
	UserID    string
	Scope     string
	ExpiresAt time.Time
}

// Store persists OAuth clients, auth codes, and refresh tokens.
type Store interface {
	CreateClient(ctx context.Context, c Client) error
	GetClient(ctx context.Context, clientID string) (*Client, error)

	CreateAuthCode(ctx context.Context, code AuthCode) error
	ConsumeAuthCode(ctx context.Context, code string) (*AuthCode, error) // deletes on read: a code is single-use

	CreateRefreshToken(ctx context.Context, token RefreshToken) error
	GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, token string) error
}

// TokenIssuer mints and verifies the JWT access tokens handed back to
// clients.
type TokenIssuer struct {
	signingKey      []byte
	accessTokenTTL  time.Duration
	refreshTokenTTL time.Duration
	store           Store
}

// NewTokenIssuer constructs a TokenIssuer.
func NewTokenIssuer(signingKey []byte, accessTokenTTL, refreshTokenTTL time.Duration, store Store) *TokenIssuer {
	return &TokenIssuer{signingKey: signingKey, accessTokenTTL: accessTokenTTL, refreshTokenTTL: refreshTokenTTL, store: store}
}

// TokenResponse is the standard OAuth 2.1 token endpoint success body.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// ExchangeAuthorizationCode validates an authorization code grant, including
// the PKCE verifier, and mints an access/refresh token pair.
func (t *TokenIssuer) ExchangeAuthorizationCode(ctx context.Context, clientID, code, redirectURI, codeVerifier string) (*TokenResponse, error) {
	authCode, err := t.store.ConsumeAuthCode(ctx, code)
	if err != nil {
		return nil, newOAuthError("invalid_grant", "authorization code not found or already used")
	}
	if time.Now().After(authCode.ExpiresAt) {
		return nil, newOAuthError("invalid_grant", "authorization code expired")
	}
	if authCode.ClientID != clientID {
		return nil, newOAuthError("invalid_grant", "authorization code was issued to a different client")
	}
	if authCode.RedirectURI != redirectURI {
		return nil, newOAuthError("invalid_grant", "redirect_uri does not match the authorization request")
	}
	if err := verifyPKCE(authCode.CodeChallenge, authCode.CodeChallengeMethod, codeVerifier); err != nil {
		return nil, err
	}

	return t.issueTokens(ctx, clientID, authCode.UserID, authCode.Scope)
}

// ExchangeRefreshToken validates a refresh token grant and mints a new
// access/refresh token pair, revoking the consumed refresh token (rotation).
func (t *TokenIssuer) ExchangeRefreshToken(ctx context.Context, clientID, refreshToken string) (*TokenResponse, error) {
	stored, err := t.store.GetRefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, newOAuthError("invalid_grant", "refresh token not found")
	}
	if time.Now().After(stored.ExpiresAt) {
		return nil, newOAuthError("invalid_grant", "refresh token expired")
	}
	if stored.ClientID != clientID {
		return nil, newOAuthError("invalid_grant", "refresh token was issued to a different client")
	}
	_ = t.store.RevokeRefreshToken(ctx, refreshToken)

	return t.issueTokens(ctx, clientID, stored.UserID, stored.Scope)
}

func (t *TokenIssuer) issueTokens(ctx context.Context, clientID, userID, scope string) (*TokenResponse, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   userID,
		"aud":   clientID,
		"scope": scope,
		"iat":   now.Unix(),
		"exp":   now.Add(t.accessTokenTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	accessToken, err := token.SignedString(t.signingKey)
	if err != nil {
		return nil, newOAuthError("server_error", fmt.Sprintf("failed to sign access token: %s", err))
	}

	refreshToken := uuid.NewString()
	if err := t.store.CreateRefreshToken(ctx, RefreshToken{
		Token:     refreshToken,
		ClientID:  clientID,
		UserID:    userID,
		Scope:     scope,
		ExpiresAt: now.Add(t.refreshTokenTTL),
	}); err != nil {
		return nil, newOAuthError("server_error", fmt.Sprintf("failed to persist refresh token: %s", err))
	}

	return &TokenResponse{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(t.accessTokenTTL.Seconds()),
		RefreshToken: refreshToken,
		Scope:        scope,
	}, nil
}

// VerifyAccessToken parses and validates a previously issued access token.
func (t *TokenIssuer) VerifyAccessToken(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
		}
		return t.signingKey, nil
	})
	if err != nil || !token.Valid {
		return nil, newOAuthError("invalid_token", "access token is invalid or expired")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, newOAuthError("invalid_token", "access token claims malformed")
	}
	return claims, nil
}

// verifyPKCE checks a presented code_verifier against the challenge
// recorded when the authorization code was issued.
func verifyPKCE(challenge, method, verifier string) error {
	if challenge == "" {
		// No PKCE was used on this authorization request (pre-2.1 clients are
		// not supported here, but a confidential client may have skipped it).
		return nil
	}
	if verifier == "" {
		return newOAuthError("invalid_grant", "code_verifier is required")
	}

	switch method {
	case "", "plain":
		if verifier != challenge {
			return newOAuthError("invalid_grant", "code_verifier does not match code_challenge")
		}
	case "S256":
		sum := sha256.Sum256([]byte(verifier))
		computed := base64.RawURLEncoding.EncodeToString(sum[:])
		if computed != challenge {
			return newOAuthError("invalid_grant", "code_verifier does not match code_challenge")
		}
	default:
		return newOAuthError("invalid_request", fmt.Sprintf("unsupported code_challenge_method %q", method))
	}
	return nil
}

// RegistrationRequest is the dynamic client registration request body
// (RFC 7591, the subset this server honors).
type RegistrationRequest struct {
	ClientName   string   `json:"client_name"`
	RedirectURIs []string `json:"redirect_uris"`
	GrantTypes   []string `json:"grant_types"`
	Scopes       []string `json:"scope"`
}

// RegistrationResponse is returned to a newly registered client; the secret
// is returned exactly once and never again (only its bcrypt hash is stored).
type RegistrationResponse struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	ClientName   string `json:"client_name"`
}

// RegisterClient validates a dynamic registration request, generates and
// hashes a client secret, and persists the new client.
func RegisterClient(ctx context.Context, store Store, req RegistrationRequest) (*RegistrationResponse, error) {
	if req.ClientName == "" {
		return nil, newOAuthError("invalid_client_metadata", "client_name is required")
	}
	if len(req.RedirectURIs) == 0 {
		return nil, newOAuthError("invalid_client_metadata", "redirect_uris must contain at least one URI")
	}

	grantTypes := req.GrantTypes
	if len(grantTypes) == 0 {
		grantTypes = []string{"authorization_code", "refresh_token"}
	}

	clientID := generateClientID()
	clientSecret := uuid.NewString()
	secretHash, err := bcrypt.GenerateFromPassword([]byte(clientSecret), bcrypt.DefaultCost)
	if err != nil {
		return nil, newOAuthError("server_error", fmt.Sprintf("failed to hash client secret: %s", err))
	}

	client := Client{
		ClientID:     clientID,
		SecretHash:   string(secretHash),
		Name:         req.ClientName,
		RedirectURIs: req.RedirectURIs,
		GrantTypes:   grantTypes,
		Scopes:       req.Scopes,
		CreatedAt:    time.Now().UTC(),
	}
	if err := store.CreateClient(ctx, client); err != nil {
		return nil, newOAuthError("server_error", fmt.Sprintf("failed to persist client: %s", err))
	}

	return &RegistrationResponse{ClientID: clientID, ClientSecret: clientSecret, ClientName: client.Name}, nil
}

// VerifyClientSecret checks a presented secret against the stored hash.
func VerifyClientSecret(client *Client, presentedSecret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(client.SecretHash), []byte(presentedSecret)) == nil
}

func generateClientID() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return "client_" + hex.EncodeToString(buf)
}
