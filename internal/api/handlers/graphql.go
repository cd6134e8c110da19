package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/heb-mcp/hebsession/internal/catalog"
	"github.com/heb-mcp/hebsession/internal/client"
	"github.com/heb-mcp/hebsession/internal/session"
	"github.com/tidwall/gjson"
)

const maxGraphQLBody = 4 << 20

// ExecuteOperation runs the named logical operation with {"variables": {...}} from the body
// and relays the upstream JSON.
func (h *Handler) ExecuteOperation(c *gin.Context) {
	name := c.Param("operation")
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxGraphQLBody))
	if err != nil {
		writeError(c, http.StatusBadRequest, ErrorTypeInvalidRequest, "failed to read body")
		return
	}
	var variables any
	if len(body) > 0 {
		if !gjson.ValidBytes(body) {
			writeError(c, http.StatusBadRequest, ErrorTypeInvalidRequest, "body must be JSON")
			return
		}
		if v := gjson.GetBytes(body, "variables"); v.Exists() {
			variables = v.Value()
		}
	}

	cl, ok := h.loadClient(c)
	if !ok {
		return
	}
	resp, err := cl.Execute(c.Request.Context(), name, variables)
	if err != nil {
		var unknown *catalog.UnknownOperationError
		switch {
		case errors.As(err, &unknown):
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: ErrorDetail{
				Type:      ErrorTypeUnknownOperation,
				Message:   err.Error(),
				Available: unknown.Available,
			}})
		case errors.Is(err, session.ErrRefreshFailed):
			writeError(c, http.StatusUnauthorized, ErrorTypeRefreshFailed, err.Error())
		case errors.Is(err, client.ErrUnauthorized):
			writeError(c, http.StatusUnauthorized, ErrorTypeUnauthorized, err.Error())
		default:
			writeError(c, http.StatusBadGateway, ErrorTypeUpstream, err.Error())
		}
		return
	}
	c.Header("X-Operation", resp.Operation.Name)
	c.Header("X-Catalog", string(resp.Operation.Catalog))
	c.Data(http.StatusOK, "application/json; charset=utf-8", resp.Body)
}
