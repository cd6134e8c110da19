package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/heb-mcp/hebsession/internal/api/middleware"
	"github.com/heb-mcp/hebsession/internal/auth/oauth"
	"github.com/heb-mcp/hebsession/internal/logging"
)

// StartOAuth begins a PKCE login for the caller and returns the URL to open.
func (h *Handler) StartOAuth(c *gin.Context) {
	if h.oauth == nil {
		writeError(c, http.StatusServiceUnavailable, ErrorTypeOAuthDisabled, oauth.ErrClientIDRequired.Error())
		return
	}
	pc, err := oauth.NewContext()
	if err != nil {
		writeError(c, http.StatusInternalServerError, ErrorTypeInvalidRequest, "failed to generate login context")
		return
	}
	authURL, err := h.oauth.AuthURL(c.Request.Context(), pc)
	if err != nil {
		if errors.Is(err, oauth.ErrClientIDRequired) {
			writeError(c, http.StatusServiceUnavailable, ErrorTypeOAuthDisabled, err.Error())
			return
		}
		writeError(c, http.StatusBadGateway, ErrorTypeProvider, err.Error())
		return
	}
	if err = h.pending.Register(pc, middleware.UserID(c)); err != nil {
		writeError(c, http.StatusInternalServerError, ErrorTypeInvalidRequest, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": authURL, "state": pc.State})
}

// OAuthCallback completes a login started by StartOAuth. It is not behind the tenant gate: the
// single-use state identifies the tenant.
func (h *Handler) OAuthCallback(c *gin.Context) {
	if h.oauth == nil {
		writeError(c, http.StatusServiceUnavailable, ErrorTypeOAuthDisabled, oauth.ErrClientIDRequired.Error())
		return
	}
	state := strings.TrimSpace(c.Query("state"))
	code := strings.TrimSpace(c.Query("code"))
	errMsg := strings.TrimSpace(c.Query("error"))

	if err := oauth.ValidateState(state); err != nil {
		writeError(c, http.StatusBadRequest, ErrorTypeInvalidRequest, err.Error())
		return
	}
	pc, userID, err := h.pending.Consume(state)
	if err != nil {
		writeError(c, http.StatusNotFound, ErrorTypeUnknownState, err.Error())
		return
	}
	if errMsg != "" {
		if desc := strings.TrimSpace(c.Query("error_description")); desc != "" {
			errMsg = errMsg + ": " + desc
		}
		writeError(c, http.StatusBadRequest, ErrorTypeDenied, errMsg)
		return
	}
	if code == "" {
		writeError(c, http.StatusBadRequest, ErrorTypeInvalidRequest, "code is required")
		return
	}

	ctx := c.Request.Context()
	tokens, err := h.oauth.Exchange(ctx, code, pc)
	if err != nil {
		var providerErr *oauth.ProviderError
		if errors.As(err, &providerErr) {
			logging.FromContext(ctx).WithField("user", userID).Warnf("oauth exchange rejected with status %d", providerErr.StatusCode)
			c.JSON(http.StatusBadGateway, ErrorResponse{Error: ErrorDetail{Type: ErrorTypeProvider, Message: providerErr.Body}})
			return
		}
		writeError(c, http.StatusBadGateway, ErrorTypeProvider, err.Error())
		return
	}

	cookies, err := h.tenants.StoredCookies(ctx, userID)
	if err != nil {
		writeStoreError(c, err)
		return
	}
	s, err := h.tenants.SaveTokens(ctx, userID, tokens, cookies)
	if err != nil {
		writeStoreError(c, err)
		return
	}
	logging.FromContext(ctx).WithField("user", userID).Info("oauth login completed")
	c.JSON(http.StatusOK, statusOf(userID, s))
}
