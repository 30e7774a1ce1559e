package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"

	"flowcore.dev/engine/record"
)

// Handlers bundles the dependencies the read-surface routes need: the
// registry of named views and the key used to sign and verify bearer
// tokens, the generalization of the teacher's api.Handlers (RabbitMQ/
// CouchDB/JWTService) down to this package's one real dependency.
type Handlers struct {
	Views      *ViewRegistry
	SigningKey []byte
}

// SetupRoutes mirrors the teacher's api.SetupRoutes: a public token
// endpoint under /auth, and a JWT-protected group under /v1/api for
// everything that touches materialized state.
func SetupRoutes(e *echo.Echo, h *Handlers) {
	auth := e.Group("/auth")
	auth.POST("/token", h.generateToken)

	protected := e.Group("/v1/api")
	protected.Use(echojwt.WithConfig(echojwt.Config{
		SigningKey:  h.SigningKey,
		TokenLookup: "header:Authorization:Bearer ",
	}))
	protected.GET("/views", h.listViews)
	protected.GET("/views/:name/lookup", h.lookupView)
}

// TokenRequest is the /auth/token request payload.
type TokenRequest struct {
	Subject string `json:"subject"`
}

// TokenResponse is the /auth/token response payload.
type TokenResponse struct {
	Token string `json:"token"`
}

func (h *Handlers) generateToken(c echo.Context) error {
	var req TokenRequest
	if err := c.Bind(&req); err != nil || req.Subject == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "subject is required"})
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   req.Subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(24 * time.Hour)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(h.SigningKey)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to sign token"})
	}
	return c.JSON(http.StatusOK, TokenResponse{Token: signed})
}

func (h *Handlers) listViews(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{"views": h.Views.Names()})
}

// ViewResult is one key's result in a lookup response, the JSON
// rendering of reader.Result minus its internal error type.
type ViewResult struct {
	Key  string       `json:"key"`
	Rows []record.Row `json:"rows,omitempty"`
	Err  string       `json:"error,omitempty"`
}

// lookupView performs a point lookup against a named view. Key values
// are supplied as one or more repeated "key" query parameters, joined
// the same way record.Row.Key encodes multi-column keys; block=true
// waits for an in-flight partial replay to land instead of returning
// Missing immediately.
func (h *Handlers) lookupView(c echo.Context) error {
	name := c.Param("name")
	getter, err := h.Views.resolve(name)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	}

	parts := c.QueryParams()["key"]
	if len(parts) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "at least one key query parameter is required"})
	}
	key := record.Key(strings.Join(parts, "\x1f"))
	block := c.QueryParam("block") == "true"

	results, err := getter.Lookup(c.Request().Context(), []record.Key{key}, block)
	if err != nil {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}

	out := make([]ViewResult, len(results))
	for i, r := range results {
		out[i] = ViewResult{Key: string(r.Key), Rows: r.Rows}
		if r.Err != nil {
			out[i].Err = r.Err.Error()
		}
	}
	return c.JSON(http.StatusOK, out)
}
