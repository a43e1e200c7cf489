// Package httpapi wires the illustrative HTTP surface over gin: agent
// listing/cards, task creation, the context SSE stream, the webhook event
// loader, and the OAuth 2.1 endpoints. None of this is core-subsystem logic
// — it is the I/O shell around the Service Lifecycle Manager, Agent
// Execution Pipeline, and Context Event Bus.
package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orchestra-run/controlplane/internal/oauthsrv"
	"github.com/orchestra-run/controlplane/internal/platform/apperr"
)

// errorBody is the stable {error, error_description} shape every failure
// response in this API uses.
type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// writeError maps a domain error to an HTTP status and the standard error
// body, never leaking internal error text for upstream/provider failures.
func writeError(c *gin.Context, err error) {
	var oauthErr *oauthsrv.OAuthError
	if errors.As(err, &oauthErr) {
		c.JSON(http.StatusBadRequest, errorBody{Error: oauthErr.Code, ErrorDescription: oauthErr.Description})
		return
	}

	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		c.JSON(statusForKind(appErr.Kind), errorBody{Error: appErr.Kind.String(), ErrorDescription: safeDescription(appErr)})
		return
	}

	c.JSON(http.StatusInternalServerError, errorBody{Error: "server_error", ErrorDescription: "an unexpected error occurred"})
}

func statusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.KindConfiguration, apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindAuthN:
		return http.StatusUnauthorized
	case apperr.KindAuthZ:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindTimeout:
		return http.StatusGatewayTimeout
	case apperr.KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// safeDescription never surfaces provider internals for upstream failures,
// per the error-handling contract: those are recorded as a failure step,
// not forwarded verbatim to the client.
func safeDescription(appErr *apperr.Error) string {
	if appErr.Kind == apperr.KindUpstream {
		return "an upstream dependency failed"
	}
	return appErr.Message
}
