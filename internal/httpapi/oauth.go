package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/orchestra-run/controlplane/internal/oauthsrv"
)

const authCodeTTL = 10 * time.Minute

// registerOAuthRoutes wires the OAuth 2.1 endpoints at the top level (not
// under /api/v1): dynamic client registration, the authorization endpoint,
// its callback, and the token endpoint.
func (s *Server) registerOAuthRoutes(r *gin.Engine) {
	r.POST("/oauth/register", s.registerOAuthClient)
	r.GET("/oauth/authorize", s.authorizeOAuth)
	r.GET("/oauth/callback", s.oauthCallback)
	r.POST("/oauth/token", s.exchangeOAuthToken)
}

func (s *Server) registerOAuthClient(c *gin.Context) {
	var req oauthsrv.RegistrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "invalid_request", ErrorDescription: err.Error()})
		return
	}
	resp, err := oauthsrv.RegisterClient(c.Request.Context(), s.oauthStore, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// authorizeOAuth issues an authorization code and redirects to the client's
// redirect_uri. There is no interactive login UI in this control plane: the
// caller is expected to already be an authenticated operator (enforced by
// whatever session middleware fronts this route in a full deployment), so
// user_id is taken directly from the query string.
func (s *Server) authorizeOAuth(c *gin.Context) {
	clientID := c.Query("client_id")
	redirectURI := c.Query("redirect_uri")
	userID := c.Query("user_id")
	if clientID == "" || redirectURI == "" || userID == "" {
		c.JSON(http.StatusBadRequest, errorBody{
			Error:            "invalid_request",
			ErrorDescription: "client_id, redirect_uri, and user_id are required",
		})
		return
	}

	client, err := s.oauthStore.GetClient(c.Request.Context(), clientID)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "invalid_client", ErrorDescription: "unknown client_id"})
		return
	}
	if !containsString(client.RedirectURIs, redirectURI) {
		c.JSON(http.StatusBadRequest, errorBody{Error: "invalid_request", ErrorDescription: "redirect_uri not registered for this client"})
		return
	}

	code := uuid.NewString()
	if err := s.oauthStore.CreateAuthCode(c.Request.Context(), oauthsrv.AuthCode{
		Code:                code,
		ClientID:            clientID,
		UserID:              userID,
		RedirectURI:         redirectURI,
		Scope:               c.Query("scope"),
		CodeChallenge:       c.Query("code_challenge"),
		CodeChallengeMethod: c.Query("code_challenge_method"),
		ExpiresAt:           time.Now().Add(authCodeTTL),
	}); err != nil {
		writeError(c, err)
		return
	}

	redirectTo := redirectURI + "?code=" + code
	if state := c.Query("state"); state != "" {
		redirectTo += "&state=" + state
	}
	c.Redirect(http.StatusFound, redirectTo)
}

// oauthCallback is the landing page a client's own redirect_uri typically
// points at; this control plane does not host client applications, so it
// only echoes back the authorization result for manual/testing flows.
func (s *Server) oauthCallback(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"code": c.Query("code"), "state": c.Query("state")})
}

type tokenRequest struct {
	GrantType    string `form:"grant_type" binding:"required"`
	Code         string `form:"code"`
	RedirectURI  string `form:"redirect_uri"`
	ClientID     string `form:"client_id" binding:"required"`
	ClientSecret string `form:"client_secret"`
	CodeVerifier string `form:"code_verifier"`
	RefreshToken string `form:"refresh_token"`
}

func (s *Server) exchangeOAuthToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "invalid_request", ErrorDescription: err.Error()})
		return
	}

	client, err := s.oauthStore.GetClient(c.Request.Context(), req.ClientID)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "invalid_client", ErrorDescription: "unknown client_id"})
		return
	}
	if req.ClientSecret != "" && !oauthsrv.VerifyClientSecret(client, req.ClientSecret) {
		c.JSON(http.StatusUnauthorized, errorBody{Error: "invalid_client", ErrorDescription: "client secret does not match"})
		return
	}

	var resp *oauthsrv.TokenResponse
	switch req.GrantType {
	case "authorization_code":
		resp, err = s.tokens.ExchangeAuthorizationCode(c.Request.Context(), req.ClientID, req.Code, req.RedirectURI, req.CodeVerifier)
	case "refresh_token":
		resp, err = s.tokens.ExchangeRefreshToken(c.Request.Context(), req.ClientID, req.RefreshToken)
	default:
		c.JSON(http.StatusBadRequest, errorBody{Error: "unsupported_grant_type", ErrorDescription: req.GrantType})
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
