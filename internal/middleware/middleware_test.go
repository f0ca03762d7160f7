package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/iliyamo/esign-workflow/internal/config"
	"github.com/iliyamo/esign-workflow/internal/utils"
)

const secret = "s3cret"

func serve(t *testing.T, e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func whoami(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{
		"user": c.Get(CtxUserID), "role": c.Get(CtxRole), "doc": c.Get(CtxDocID),
	})
}

func TestJWTAuthHeaderAndQuery(t *testing.T) {
	e := echo.New()
	e.GET("/v1/sign/:id", whoami, JWTAuth(secret), RequireRole(utils.RoleSigner), RequireDocument("id"))

	tok, err := utils.NewSigningToken(secret, 5, 9, "a@b.io", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v1/sign/5?token="+tok.Token, nil)
	rec := serve(t, e, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"user":"9","role":"SIGNER","doc":"5"}`, rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/v1/sign/5", nil)
	req.Header.Set("Authorization", "Bearer "+tok.Token)
	assert.Equal(t, http.StatusOK, serve(t, e, req).Code)

	// A link minted for document 5 does not open document 6.
	req = httptest.NewRequest(http.MethodGet, "/v1/sign/6?token="+tok.Token, nil)
	assert.Equal(t, http.StatusForbidden, serve(t, e, req).Code)
}

func TestJWTAuthRejects(t *testing.T) {
	e := echo.New()
	e.GET("/x", whoami, JWTAuth(secret))

	assert.Equal(t, http.StatusUnauthorized, serve(t, e, httptest.NewRequest(http.MethodGet, "/x", nil)).Code)

	other, err := utils.NewAccessToken("other", 1, utils.RoleAuthor, "", time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer "+other.Token)
	assert.Equal(t, http.StatusUnauthorized, serve(t, e, req).Code)

	expired, err := utils.NewAccessToken(secret, 1, utils.RoleAuthor, "", -time.Minute)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer "+expired.Token)
	assert.Equal(t, http.StatusUnauthorized, serve(t, e, req).Code)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "1", "role": "AUTHOR"})
	raw, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	assert.Equal(t, http.StatusUnauthorized, serve(t, e, req).Code)
}

func TestRequireRole(t *testing.T) {
	e := echo.New()
	e.GET("/docs", whoami, JWTAuth(secret), RequireRole(utils.RoleAuthor))

	signer, err := utils.NewSigningToken(secret, 1, 2, "", time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/docs?token="+signer.Token, nil)
	assert.Equal(t, http.StatusForbidden, serve(t, e, req).Code)

	author, err := utils.NewAccessToken(secret, 7, utils.RoleAuthor, "me@x.io", time.Hour)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/docs", nil)
	req.Header.Set("Authorization", "Bearer "+author.Token)
	assert.Equal(t, http.StatusOK, serve(t, e, req).Code)
}

func TestRequestLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	e := echo.New()
	e.Use(RequestLogger(zap.New(core)), Recover(zap.New(core)))
	e.GET("/ok", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/boom", func(echo.Context) error { panic("boom") })

	rec := serve(t, e, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))

	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set(echo.HeaderXRequestID, "abc")
	rec = serve(t, e, req)
	assert.Equal(t, "abc", rec.Header().Get(echo.HeaderXRequestID))

	rec = serve(t, e, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	assert.Equal(t, 2, logs.FilterMessage("request completed").Len())
	assert.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
	assert.Equal(t, 1, logs.FilterMessage("request failed").Len())
}

func TestDisabledLimiterAndCachePassThrough(t *testing.T) {
	e := echo.New()
	calls := 0
	h := func(c echo.Context) error { calls++; return c.NoContent(http.StatusNoContent) }
	e.GET("/x", h, NewTokenBucket(config.RateLimitConfig{Enabled: true}, nil, nil), NewRedisCache(config.CacheConfig{Enabled: true}, nil))
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusNoContent, serve(t, e, httptest.NewRequest(http.MethodGet, "/x", nil)).Code)
	}
	assert.Equal(t, 3, calls)
}

func TestBuildRateKey(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/sign/1/complete", nil)
	req.Header.Set(echo.HeaderXRealIP, "10.0.0.1")
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/v1/sign/:id/complete")
	c.Set(CtxUserID, "9")

	cfg := config.RateLimitConfig{Prefix: "esign:rl", KeyStrategy: "ip_user"}
	assert.Equal(t, "esign:rl:ip:10.0.0.1:user:9", buildRateKey(cfg, c))
	cfg.KeyStrategy = ""
	assert.Equal(t, "esign:rl:ip:10.0.0.1:user:9:route:POST /v1/sign/:id/complete", buildRateKey(cfg, c))
}

func TestCachePayloadRejectsTruncated(t *testing.T) {
	bs, err := encodePayload(http.StatusOK, http.Header{"Content-Type": {"application/json"}}, []byte(`{}`))
	require.NoError(t, err)
	status, hdr, body, ok := decodePayload(bs)
	require.True(t, ok)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "application/json", hdr.Get("Content-Type"))
	assert.Equal(t, "{}", string(body))

	_, _, _, ok = decodePayload(bs[:10])
	assert.False(t, ok)
}
