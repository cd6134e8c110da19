package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/heb-mcp/hebsession/internal/api/middleware"
	"github.com/heb-mcp/hebsession/internal/auth/credential"
	"github.com/heb-mcp/hebsession/internal/session"
	"github.com/tidwall/gjson"
)

const maxCredentialBody = 1 << 20

type sessionStatus struct {
	UserID       string                `json:"user_id"`
	Mode         session.AuthMode      `json:"mode"`
	Valid        bool                  `json:"valid"`
	CanRefresh   bool                  `json:"can_refresh"`
	ExpiresAt    *time.Time            `json:"expires_at,omitempty"`
	Endpoint     string                `json:"endpoint"`
	StoreContext *session.StoreContext `json:"store_context,omitempty"`
}

func statusOf(userID string, s *session.Session) sessionStatus {
	out := sessionStatus{
		UserID:     userID,
		Mode:       s.Mode(),
		Valid:      s.IsValid(),
		CanRefresh: s.CanRefresh(),
		Endpoint:   s.Endpoint(),
	}
	if expiry, ok := s.Expiry(); ok {
		out.ExpiresAt = &expiry
	}
	if sc := s.Context(); sc != (session.StoreContext{}) {
		out.StoreContext = &sc
	}
	return out
}

// GetSession reports the caller's session status.
func (h *Handler) GetSession(c *gin.Context) {
	s, ok := h.loadSession(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, statusOf(middleware.UserID(c), s))
}

// PutCookies stores a cookie bundle. The body is either {"cookie": "a=b; c=d"} or a flat
// name to value object.
func (h *Handler) PutCookies(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCredentialBody))
	if err != nil || !gjson.ValidBytes(body) {
		writeError(c, http.StatusBadRequest, ErrorTypeInvalidRequest, "body must be a JSON object")
		return
	}

	var bundle credential.CookieBundle
	if header := gjson.GetBytes(body, "cookie"); header.Type == gjson.String {
		bundle, err = credential.ParseCookieHeader(header.String())
		if err != nil {
			writeError(c, http.StatusBadRequest, ErrorTypeInvalidRequest, err.Error())
			return
		}
	} else {
		raw := make(map[string]string)
		if err = json.Unmarshal(body, &raw); err != nil {
			writeError(c, http.StatusBadRequest, ErrorTypeInvalidRequest, "cookie values must be strings")
			return
		}
		bundle = credential.NewCookieBundle(raw)
	}

	user := middleware.UserID(c)
	s, err := h.tenants.SaveCookies(c.Request.Context(), user, bundle)
	if err != nil {
		if errors.Is(err, credential.ErrMissingSessionAuth) {
			writeError(c, http.StatusBadRequest, ErrorTypeInvalidRequest, err.Error())
			return
		}
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, statusOf(user, s))
}

// PutTokens stores a token bundle, keeping any cookies already on record.
func (h *Handler) PutTokens(c *gin.Context) {
	var tokens credential.TokenBundle
	if err := c.ShouldBindJSON(&tokens); err != nil {
		writeError(c, http.StatusBadRequest, ErrorTypeInvalidRequest, "body must be a token bundle")
		return
	}
	user := middleware.UserID(c)
	ctx := c.Request.Context()
	cookies, err := h.tenants.StoredCookies(ctx, user)
	if err != nil {
		writeStoreError(c, err)
		return
	}
	s, err := h.tenants.SaveTokens(ctx, user, tokens, cookies)
	if err != nil {
		if errors.Is(err, credential.ErrMissingAccessToken) {
			writeError(c, http.StatusBadRequest, ErrorTypeInvalidRequest, err.Error())
			return
		}
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, statusOf(user, s))
}

// PutContext sets the store context carried by the cached session.
func (h *Handler) PutContext(c *gin.Context) {
	var sc session.StoreContext
	if err := c.ShouldBindJSON(&sc); err != nil {
		writeError(c, http.StatusBadRequest, ErrorTypeInvalidRequest, "body must be a store context")
		return
	}
	s, ok := h.loadSession(c)
	if !ok {
		return
	}
	s.SetContext(sc)
	c.JSON(http.StatusOK, statusOf(middleware.UserID(c), s))
}

// DeleteSession signs the caller out.
func (h *Handler) DeleteSession(c *gin.Context) {
	if err := h.tenants.SignOut(c.Request.Context(), middleware.UserID(c)); err != nil {
		writeStoreError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
