package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pnocera/accounts/pkg/config"
	"github.com/pnocera/accounts/pkg/interfaces"
	"github.com/pnocera/accounts/pkg/logger"
	"github.com/pnocera/accounts/pkg/metrics"
	"github.com/pnocera/accounts/pkg/notify"
	"github.com/pnocera/accounts/pkg/revocation"
	"github.com/pnocera/accounts/pkg/security"
	"github.com/pnocera/accounts/pkg/usecases"
	"github.com/pnocera/accounts/pkg/users"
)

type testServer struct {
	server *Server
	repo   *users.Repository
	deps   *usecases.Dependencies
}

func setupTestServer(t *testing.T, mutate ...func(cfg *config.Config)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.DefaultConfig()
	cfg.Server.Env = config.EnvTest
	cfg.Database.Path = filepath.Join(t.TempDir(), "api.db")
	cfg.Database.MaxRetries = 0
	cfg.API.RateLimit.RPS = 0
	for _, m := range mutate {
		m(cfg)
	}

	log := logger.NewTestLogger()
	repo, err := users.NewRepository(context.Background(), cfg.Database, cfg.API.SystemUser, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	crypt, err := security.NewEncryptor(cfg.API.Crypt.Key, "accounts/recovery-token")
	require.NoError(t, err)
	renderer, err := notify.NewRenderer()
	require.NoError(t, err)

	prom := metrics.NewPrometheusMetrics()
	tokens := security.NewTokenService(cfg.API.Auth.Token.Secret, cfg.API.URI, cfg.API.Alias, cfg.API.Auth.Token.Expiration)
	revoked := revocation.NewMemoryStore()
	deps := &usecases.Dependencies{
		Config:     cfg,
		Store:      repo,
		Passwords:  security.NewPasswordService(4),
		Tokens:     tokens,
		OTP:        security.NewOTPService(cfg.API.Name),
		Crypt:      crypt,
		Renderer:   renderer,
		Notifier:   notify.NewLogNotifier(log),
		Revocation: revoked,
		Logger:     log,
		Metrics:    prom,
	}
	mediator := usecases.NewMediator(log, prom)
	usecases.RegisterAll(mediator, deps)

	server := NewServer(Options{
		Config:     cfg,
		Mediator:   mediator,
		Tokens:     tokens,
		Revocation: revoked,
		Logger:     log,
		Metrics:    prom,
		Prometheus: prom,
		Checks: map[string]interfaces.HealthChecker{
			"database":   repo,
			"revocation": revoked,
		},
		Version: "test",
	})
	return &testServer{server: server, repo: repo, deps: deps}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

// signup registers username and returns its pre-OTP token
func (ts *testServer) signup(t *testing.T, username string) string {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/api/v1/auth/actions/signup", "", UserCreate{
		Name: "User " + username, Email: username + "@example.com", Username: username, Password: "Secret123",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode[TokenResponse](t, w).Data.Token
}

// fullToken signs username up and completes the 2FA registration
func (ts *testServer) fullToken(t *testing.T, username string) string {
	t.Helper()
	token := ts.signup(t, username)

	w := ts.do(t, http.MethodPost, "/api/v1/auth/otp/actions/start-registration", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ts.do(t, http.MethodPost, "/api/v1/auth/otp/actions/finish-registration", token, map[string]interface{}{"code": ts.code(t, username)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode[TokenResponse](t, w).Data.Token
}

func (ts *testServer) code(t *testing.T, username string) string {
	t.Helper()
	user, err := ts.repo.GetUserByUsername(context.Background(), username)
	require.NoError(t, err)
	require.NotNil(t, user.OTPSecret)
	code, err := ts.deps.OTP.Code(*user.OTPSecret)
	require.NoError(t, err)
	return code
}

func TestPingAndHealth(t *testing.T) {
	ts := setupTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/ping", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Pong", decode[PingResponse](t, w).Message)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	health := decode[HealthResponse](t, w)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "ok", health.Checks["database"])
	assert.Equal(t, "ok", health.Checks["revocation"])

	require.NoError(t, ts.repo.Close())
	w = ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestOpenAPIAndMetrics(t *testing.T) {
	ts := setupTestServer(t)

	w := ts.do(t, http.MethodGet, "/openapi.json", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	doc := decode[map[string]interface{}](t, w)
	paths := doc["paths"].(map[string]interface{})
	assert.Contains(t, paths, "/api/v1/users/{username}")
	assert.Contains(t, paths, "/api/v1/auth/otp/actions/validate")
	schemas := doc["components"].(map[string]interface{})["schemas"].(map[string]interface{})
	logout := schemas["LogoutResponse"].(map[string]interface{})["properties"].(map[string]interface{})["data"]
	assert.Contains(t, logout.(map[string]interface{})["properties"], "loggedOut")

	w = ts.do(t, http.MethodGet, "/docs/index.html", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/openapi.json")

	ts.do(t, http.MethodGet, "/api/ping", "", nil)
	w = ts.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "accounts_http_requests_total")
}

func TestSignin(t *testing.T) {
	ts := setupTestServer(t)
	ts.signup(t, "alice")

	w := ts.do(t, http.MethodPost, "/api/v1/auth/actions/signin", "", SigninRequest{Username: "alice", Password: "Secret123"})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[TokenResponse](t, w)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.NotEmpty(t, resp.Data.Token)

	w = ts.do(t, http.MethodPost, "/api/v1/auth/actions/signin", "", SigninRequest{Username: "alice", Password: "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "INVALID_CREDENTIALS", decode[ErrorResponse](t, w).Error)

	// validation failures are reported as 401 too
	w = ts.do(t, http.MethodPost, "/api/v1/auth/actions/signin", "", SigninRequest{Username: "a"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSignup_Errors(t *testing.T) {
	ts := setupTestServer(t)
	ts.signup(t, "bob")

	w := ts.do(t, http.MethodPost, "/api/v1/auth/actions/signup", "", UserCreate{
		Name: "Bob", Email: "bob@example.com", Username: "bob", Password: "Secret123",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "ALREADY_EXISTS", decode[ErrorResponse](t, w).Error)

	w = ts.do(t, http.MethodPost, "/api/v1/auth/actions/signup", "", UserCreate{Username: "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGuards(t *testing.T) {
	ts := setupTestServer(t)
	token := ts.signup(t, "carol")

	w := ts.do(t, http.MethodGet, "/api/v1/users", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/users", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "INVALID_TOKEN", decode[ErrorResponse](t, w).Error)

	w = ts.do(t, http.MethodGet, "/api/v1/users", token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "OTP_REQUIRED", decode[ErrorResponse](t, w).Error)

	w = ts.do(t, http.MethodPost, "/api/v1/auth/otp/actions/disable", token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/auth/otp/actions/start-registration", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, decode[OTPURIResponse](t, w).Data.TokenURI, "otpauth://totp/")

	w = ts.do(t, http.MethodPost, "/api/v1/auth/otp/actions/finish-registration", token, map[string]interface{}{"code": ts.code(t, "carol")})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// a fresh signin has 2FA enabled but not validated
	w = ts.do(t, http.MethodPost, "/api/v1/auth/actions/signin", "", SigninRequest{Username: "carol", Password: "Secret123"})
	require.Equal(t, http.StatusOK, w.Code)
	preOTP := decode[TokenResponse](t, w).Data.Token

	w = ts.do(t, http.MethodGet, "/api/v1/users", preOTP, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "VERIFIED_OTP_REQUIRED", decode[ErrorResponse](t, w).Error)

	w = ts.do(t, http.MethodGet, "/api/v1/auth/otp/actions/get-uri", preOTP, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/auth/otp/actions/validate", preOTP, map[string]interface{}{"code": ts.code(t, "carol")})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	full := decode[TokenResponse](t, w).Data.Token

	w = ts.do(t, http.MethodGet, "/api/v1/users", full, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/auth/actions/signout", full, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[LogoutResponse](t, w).Data.LoggedOut)

	w = ts.do(t, http.MethodGet, "/api/v1/users", full, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "TOKEN_REVOKED", decode[ErrorResponse](t, w).Error)
}

func TestUsersRoutes(t *testing.T) {
	ts := setupTestServer(t)
	token := ts.fullToken(t, "dave")

	w := ts.do(t, http.MethodPost, "/api/v1/users", token, UserCreate{
		Name: "Erin", Email: "erin@example.com", Username: "erin", Password: "Secret123",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "erin", decode[UserResponse](t, w).Data.User.Username)

	w = ts.do(t, http.MethodGet, "/api/v1/users/erin", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/users/nobody", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodPatch, "/api/v1/users/erin", token, map[string]interface{}{
		"patches": []map[string]interface{}{
			{"op": "replace", "path": "/name", "value": "Erin E"},
			{"op": "replace", "path": "/password", "value": "x"},
		},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Erin E", decode[UserResponse](t, w).Data.User.Name)

	query := url.Values{}
	query.Set("size", "1")
	query.Set("filters", `{"username":{"value":"erin","matchMode":"equals"}}`)
	w = ts.do(t, http.MethodGet, "/api/v1/users?"+query.Encode(), token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	list := decode[UserListResponse](t, w)
	assert.EqualValues(t, 1, list.Data.TotalRows)
	assert.Equal(t, 1, list.Data.PageSize)

	w = ts.do(t, http.MethodGet, "/api/v1/users?filters=nope", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/users?page=abc", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/users/erin/histories", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	histories := decode[HistoryListResponse](t, w)
	require.Len(t, histories.Data.UserHistories, 2)
	assert.Equal(t, users.EventUpdated, histories.Data.UserHistories[0].Event)
	assert.Equal(t, "dave", histories.Data.UserHistories[0].Operator.Username)

	query = url.Values{}
	query.Set("filters", `{"operator.name":{"value":"User dave","matchMode":"equals"}}`)
	query.Set("sorting", `[{"field":"createdAt","order":1}]`)
	w = ts.do(t, http.MethodGet, "/api/v1/user-histories?"+query.Encode(), token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotEmpty(t, decode[HistoryListResponse](t, w).Data.UserHistories)
}

func TestPasswordRecoveryRoutes(t *testing.T) {
	ts := setupTestServer(t)
	ts.signup(t, "frank")

	w := ts.do(t, http.MethodPost, "/api/v1/auth/actions/request-password-recovery", "", RecoveryRequest{Username: "nobody"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())

	w = ts.do(t, http.MethodPost, "/api/v1/auth/actions/request-password-recovery", "", RecoveryRequest{Username: "frank"})
	require.Equal(t, http.StatusOK, w.Code)

	user, err := ts.repo.GetUserByUsername(context.Background(), "frank")
	require.NoError(t, err)
	require.NotNil(t, user.PasswordRecoveryToken)

	w = ts.do(t, http.MethodPost, "/api/v1/auth/actions/change-password/garbage", "", ChangePasswordRequest{Password: "NewSecret123"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/auth/actions/change-password/"+*user.PasswordRecoveryToken, "",
		ChangePasswordRequest{Password: "NewSecret123"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ts.do(t, http.MethodPost, "/api/v1/auth/actions/signin", "", SigninRequest{Username: "frank", Password: "NewSecret123"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimit(t *testing.T) {
	ts := setupTestServer(t, func(cfg *config.Config) {
		cfg.API.RateLimit.RPS = 0.001
		cfg.API.RateLimit.Burst = 1
	})

	body := SigninRequest{Username: "nobody", Password: "whatever"}
	w := ts.do(t, http.MethodPost, "/api/v1/auth/actions/signin", "", body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/auth/actions/signin", "", body)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "RATE_LIMITED", decode[ErrorResponse](t, w).Error)

	// guarded routes are not limited
	w = ts.do(t, http.MethodGet, "/api/ping", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthBypass(t *testing.T) {
	ts := setupTestServer(t, func(cfg *config.Config) {
		cfg.Server.Env = config.EnvDevelopment
		cfg.API.Auth.Disabled = true
	})

	w := ts.do(t, http.MethodGet, "/api/v1/users", "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "system", decode[UserListResponse](t, w).Data.Users[0].Username)

	w = ts.do(t, http.MethodPost, "/api/v1/users", "", UserCreate{
		Name: "Gina", Email: "gina@example.com", Username: "gina", Password: "Secret123",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestAuthBypass_IgnoredOutsideDevelopment(t *testing.T) {
	ts := setupTestServer(t, func(cfg *config.Config) {
		cfg.Server.Env = config.EnvProduction
		cfg.API.Auth.Disabled = true
	})

	w := ts.do(t, http.MethodGet, "/api/v1/users", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
