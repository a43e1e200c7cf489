package oauthsrv

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/orchestra-run/controlplane/internal/common/database"
	"github.com/orchestra-run/controlplane/internal/platform/apperr"
)

// PostgresStore is the pgx-backed Store: oauth_clients, oauth_auth_codes, and
// oauth_refresh_tokens. ConsumeAuthCode deletes the row it reads in the same
// statement, enforcing single-use without a separate "used" flag.
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore wraps db as a Store.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CreateClient(ctx context.Context, c Client) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO oauth_clients (client_id, secret_hash, name, redirect_uris, grant_types, scopes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ClientID, c.SecretHash, c.Name, c.RedirectURIs, c.GrantTypes, c.Scopes, c.CreatedAt)
	if err != nil {
		return apperr.Wrap(apperr.KindPersistence, "inserting oauth client", err)
	}
	return nil
}

func (s *PostgresStore) GetClient(ctx context.Context, clientID string) (*Client, error) {
	row := s.db.QueryRow(ctx, `
		SELECT client_id, secret_hash, name, redirect_uris, grant_types, scopes, created_at
		FROM oauth_clients WHERE client_id = $1`, clientID)

	var c Client
	err := row.Scan(&c.ClientID, &c.SecretHash, &c.Name, &c.RedirectURIs, &c.GrantTypes, &c.Scopes, &c.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.New(apperr.KindNotFound, fmt.Sprintf("oauth client %s not found", clientID))
		}
		return nil, apperr.Wrap(apperr.KindPersistence, "querying oauth client", err)
	}
	return &c, nil
}

func (s *PostgresStore) CreateAuthCode(ctx context.Context, code AuthCode) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO oauth_auth_codes (code, client_id, user_id, redirect_uri, scope,
			code_challenge, code_challenge_method, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		code.Code, code.ClientID, code.UserID, code.RedirectURI, code.Scope,
		code.CodeChallenge, code.CodeChallengeMethod, code.ExpiresAt)
	if err != nil {
		return apperr.Wrap(apperr.KindPersistence, "inserting oauth auth code", err)
	}
	return nil
}

// ConsumeAuthCode deletes the code row and returns what it held, so a second
// call for the same code always fails with KindNotFound.
func (s *PostgresStore) ConsumeAuthCode(ctx context.Context, code string) (*AuthCode, error) {
	row := s.db.QueryRow(ctx, `
		DELETE FROM oauth_auth_codes WHERE code = $1
		RETURNING code, client_id, user_id, redirect_uri, scope, code_challenge, code_challenge_method, expires_at`,
		code)

	var ac AuthCode
	err := row.Scan(&ac.Code, &ac.ClientID, &ac.UserID, &ac.RedirectURI, &ac.Scope,
		&ac.CodeChallenge, &ac.CodeChallengeMethod, &ac.ExpiresAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.New(apperr.KindNotFound, fmt.Sprintf("oauth auth code %s not found", code))
		}
		return nil, apperr.Wrap(apperr.KindPersistence, "consuming oauth auth code", err)
	}
	return &ac, nil
}

func (s *PostgresStore) CreateRefreshToken(ctx context.Context, token RefreshToken) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO oauth_refresh_tokens (token, client_id, user_id, scope, expires_at)
		VALUES ($1, $2, $3, $4, $5)`,
		token.Token, token.ClientID, token.UserID, token.Scope, token.ExpiresAt)
	if err != nil {
		return apperr.Wrap(apperr.KindPersistence, "inserting oauth refresh token", err)
	}
	return nil
}

func (s *PostgresStore) GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error) {
	row := s.db.QueryRow(ctx, `
		SELECT token, client_id, user_id, scope, expires_at
		FROM oauth_refresh_tokens WHERE token = $1`, token)

	var rt RefreshToken
	err := row.Scan(&rt.Token, &rt.ClientID, &rt.UserID, &rt.Scope, &rt.ExpiresAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.New(apperr.KindNotFound, fmt.Sprintf("oauth refresh token %s not found", token))
		}
		return nil, apperr.Wrap(apperr.KindPersistence, "querying oauth refresh token", err)
	}
	return &rt, nil
}

func (s *PostgresStore) RevokeRefreshToken(ctx context.Context, token string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM oauth_refresh_tokens WHERE token = $1`, token)
	if err != nil {
		return apperr.Wrap(apperr.KindPersistence, "revoking oauth refresh token", err)
	}
	return nil
}
