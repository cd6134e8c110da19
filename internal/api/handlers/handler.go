// Package handlers implements the HTTP endpoints of the hosted session service.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/heb-mcp/hebsession/internal/api/middleware"
	"github.com/heb-mcp/hebsession/internal/auth/oauth"
	"github.com/heb-mcp/hebsession/internal/client"
	"github.com/heb-mcp/hebsession/internal/logging"
	"github.com/heb-mcp/hebsession/internal/session"
	"github.com/heb-mcp/hebsession/internal/store"
	"github.com/heb-mcp/hebsession/internal/tenant"
)

// Error types returned in ErrorDetail.Type.
const (
	ErrorTypeInvalidRequest   = "invalid_request"
	ErrorTypeNoSession        = "no_session"
	ErrorTypeUnknownOperation = "unknown_operation"
	ErrorTypeRefreshFailed    = "refresh_failed"
	ErrorTypeUnauthorized     = "upstream_unauthorized"
	ErrorTypeUpstream         = "upstream_error"
	ErrorTypeStore            = "store_error"
	ErrorTypeOAuthDisabled    = "oauth_not_configured"
	ErrorTypeUnknownState     = "unknown_state"
	ErrorTypeProvider         = "provider_error"
	ErrorTypeDenied           = "authorization_denied"
)

// ErrorResponse is the JSON body of every error reply.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes one failure.
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	// Available lists valid operation names for unknown_operation errors.
	Available []string `json:"available,omitempty"`
}

// Handler serves session, OAuth and GraphQL endpoints on behalf of authenticated tenants.
type Handler struct {
	tenants *tenant.Manager
	oauth   *oauth.Client
	pending *oauth.Pending
}

// New builds a handler. oauthClient may be nil when no identity provider is configured.
func New(tenants *tenant.Manager, oauthClient *oauth.Client, pending *oauth.Pending) *Handler {
	if pending == nil {
		pending = oauth.NewPending(0)
	}
	return &Handler{tenants: tenants, oauth: oauthClient, pending: pending}
}

func writeError(c *gin.Context, status int, errType, message string) {
	c.JSON(status, ErrorResponse{Error: ErrorDetail{Type: errType, Message: message}})
}

// writeStoreError reports a store failure without leaking ciphertext details.
func writeStoreError(c *gin.Context, err error) {
	logging.FromContext(c.Request.Context()).WithField("user", middleware.UserID(c)).WithError(err).Error("session store failure")
	message := "session store failure"
	switch {
	case errors.Is(err, store.ErrDecrypt):
		message = "stored session could not be decrypted"
	case errors.Is(err, store.ErrKeyRequired):
		message = "stored session is encrypted and no key is configured"
	case errors.Is(err, store.ErrInvalidUserID):
		writeError(c, http.StatusBadRequest, ErrorTypeInvalidRequest, err.Error())
		return
	}
	writeError(c, http.StatusInternalServerError, ErrorTypeStore, message)
}

// loadSession returns the caller's cached session, loading it from the store on a miss. It
// writes the error reply itself when it returns false.
func (h *Handler) loadSession(c *gin.Context) (*session.Session, bool) {
	user := middleware.UserID(c)
	if s, ok := h.tenants.GetSession(user); ok {
		return s, true
	}
	s, err := h.tenants.LoadUser(c.Request.Context(), user)
	if err != nil {
		writeStoreError(c, err)
		return nil, false
	}
	if s == nil {
		writeError(c, http.StatusNotFound, ErrorTypeNoSession, "no session stored for this tenant")
		return nil, false
	}
	return s, true
}

func (h *Handler) loadClient(c *gin.Context) (*client.Client, bool) {
	if _, ok := h.loadSession(c); !ok {
		return nil, false
	}
	cl, ok := h.tenants.GetClient(middleware.UserID(c))
	if !ok {
		writeError(c, http.StatusNotFound, ErrorTypeNoSession, "session was evicted")
		return nil, false
	}
	return cl, true
}
