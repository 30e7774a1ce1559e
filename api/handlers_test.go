package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"flowcore.dev/engine/node"
	"flowcore.dev/engine/reader"
	"flowcore.dev/engine/record"
	"flowcore.dev/engine/state"
)

type stubDirectory struct {
	r *reader.Reader
}

func (d *stubDirectory) Resolve(node.Address) (*reader.Reader, bool) { return d.r, true }

func rowOf(vals ...int64) record.Row {
	out := make(record.Row, len(vals))
	for i, v := range vals {
		out[i] = record.IntValue(v)
	}
	return out
}

func newTestServer(t *testing.T) (*echo.Echo, []byte) {
	t.Helper()
	ix := state.NewFull(state.Spec{Columns: []int{0}})
	ix.Insert(rowOf(1).Key([]int{0}), rowOf(1, 9))
	r := reader.New(ix, func() bool { return true }, nil)
	getter := reader.NewGetter(&stubDirectory{r: r}, nil, node.Address{})

	views := NewViewRegistry()
	views.Register("counts", getter)

	secret := []byte("test-signing-key")
	e := echo.New()
	SetupRoutes(e, &Handlers{Views: views, SigningKey: secret})
	return e, secret
}

func signToken(t *testing.T, secret []byte, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: subject})
	signed, err := token.SignedString(secret)
	require.NoError(t, err)
	return signed
}

func TestGenerateTokenRejectsMissingSubject(t *testing.T) {
	e, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/auth/token", nil)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenerateTokenIssuesValidBearerToken(t *testing.T) {
	e, secret := newTestServer(t)
	body := `{"subject":"operator-1"}`
	req := httptest.NewRequest(http.MethodPost, "/auth/token", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp TokenResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotEmpty(t, resp.Token)

	_, err := jwt.Parse(resp.Token, func(*jwt.Token) (interface{}, error) { return secret, nil })
	require.NoError(t, err)
}

func TestLookupViewRejectsRequestWithoutBearerToken(t *testing.T) {
	e, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/api/views/counts/lookup?key=1", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLookupViewReturnsMaterializedRowsWithValidToken(t *testing.T) {
	e, secret := newTestServer(t)
	token := signToken(t, secret, "operator-1")

	req := httptest.NewRequest(http.MethodGet, "/v1/api/views/counts/lookup?key=1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var results []ViewResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&results))
	require.Len(t, results, 1)
	require.Len(t, results[0].Rows, 1)
}

func TestLookupViewReturns404ForUnknownViewName(t *testing.T) {
	e, secret := newTestServer(t)
	token := signToken(t, secret, "operator-1")

	req := httptest.NewRequest(http.MethodGet, "/v1/api/views/missing/lookup?key=1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListViewsReportsRegisteredNames(t *testing.T) {
	e, secret := newTestServer(t)
	token := signToken(t, secret, "operator-1")

	req := httptest.NewRequest(http.MethodGet, "/v1/api/views", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "counts")
}
