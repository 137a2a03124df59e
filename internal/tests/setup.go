// Package tests drives the HTTP API end to end against a migrated database.
package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/proconfianza/server/internal/auth"
	"github.com/proconfianza/server/internal/db/dbtest"
	httphandler "github.com/proconfianza/server/internal/http"
	"github.com/proconfianza/server/internal/http/handlers"
	"github.com/proconfianza/server/internal/middleware"
	"github.com/proconfianza/server/internal/repo"
	"github.com/proconfianza/server/internal/sms"
)

const (
	adminPhone     = "+15550000000"
	testAdminKey   = "test-admin-key"
	testInvitation = "ABC123"
)

// serverOptions tweaks the server built by newTestServer.
type serverOptions struct {
	devMode          bool
	allowUserInvites bool
	sendPerPhone     int
	sendPerIP        int
	verifyPerIP      int
	adminKey         string
}

func defaultOptions() serverOptions {
	return serverOptions{devMode: true, sendPerPhone: 100, sendPerIP: 1000, verifyPerIP: 1000, adminKey: testAdminKey}
}

// testServer holds the server and its collaborators for integration tests
type testServer struct {
	Server *httptest.Server
	Store  *repo.Store
	SMS    *sms.Recorder
}

func newTestServer(t *testing.T, mutate ...func(*serverOptions)) *testServer {
	t.Helper()
	opts := defaultOptions()
	for _, m := range mutate {
		m(&opts)
	}

	phone, err := auth.NewPhoneFormat("1", 10)
	require.NoError(t, err)

	log := dbtest.QuietLogger()
	store := repo.NewStore(dbtest.Open(t))
	recorder := sms.NewRecorder()
	svc := auth.NewService(store, recorder, auth.Config{
		Phone:            phone,
		OTPSalt:          "test-otp-salt",
		CodeTTL:          10 * time.Minute,
		MaxAttempts:      3,
		SMSTimeout:       time.Second,
		DevMode:          opts.devMode,
		AllowUserInvites: opts.allowUserInvites,
	}, log)
	require.NoError(t, svc.Bootstrap(context.Background(), adminPhone, testInvitation))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	router := httphandler.NewRouter(httphandler.Handlers{
		Registration: handlers.NewRegistrationHandler(svc, middleware.NewRateLimiter(ctx, 10*time.Minute, opts.sendPerPhone), log),
		Users:        handlers.NewUserHandler(svc, log),
		Admin:        handlers.NewAdminHandler(svc, log),
		Health:       handlers.NewHealthHandler(store, log),
	}, httphandler.Limits{
		SendPerIP:   middleware.NewRateLimiter(ctx, 10*time.Minute, opts.sendPerIP),
		VerifyPerIP: middleware.NewRateLimiter(ctx, 10*time.Minute, opts.verifyPerIP),
	}, opts.adminKey, log)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &testServer{Server: server, Store: store, SMS: recorder}
}

func (s *testServer) BaseURL() string { return s.Server.URL }

// post sends body as JSON and decodes the JSON response into a map.
func (s *testServer) post(t *testing.T, path string, body any, headers ...string) (int, map[string]any) {
	t.Helper()
	var raw []byte
	switch b := body.(type) {
	case string:
		raw = []byte(b)
	default:
		var err error
		raw, err = json.Marshal(body)
		require.NoError(t, err)
	}

	req, err := http.NewRequest(http.MethodPost, s.BaseURL()+path, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	return s.do(t, req)
}

func (s *testServer) get(t *testing.T, path string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, s.BaseURL()+path, nil)
	require.NoError(t, err)
	return s.do(t, req)
}

func (s *testServer) do(t *testing.T, req *http.Request) (int, map[string]any) {
	t.Helper()
	resp, err := s.Server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	text := readBody(resp)
	var out map[string]any
	if text != "" {
		require.NoError(t, json.Unmarshal([]byte(text), &out), "response must be JSON; body: %s", text)
	}
	return resp.StatusCode, out
}

// sendCode runs send-verification and returns the code delivered by SMS.
func (s *testServer) sendCode(t *testing.T, phone, invitation string) string {
	t.Helper()
	status, body := s.post(t, "/api/auth/send-verification", map[string]string{
		"phone_number":    phone,
		"invitation_code": invitation,
	})
	require.Equal(t, http.StatusOK, status, "send-verification body: %v", body)
	code, ok := s.SMS.LastCode(phone)
	require.True(t, ok)
	return code
}

func readBody(resp *http.Response) string {
	b, _ := io.ReadAll(resp.Body)
	return string(b)
}

// createInvitation mints (or creates, when code is set) an invitation through
// the admin API as the bootstrap admin.
func (s *testServer) createInvitation(t *testing.T, code string) string {
	t.Helper()
	status, body := s.post(t, "/api/admin/invitations", map[string]string{
		"created_by_phone": adminPhone,
		"code":             code,
	}, "Authorization", "Bearer "+testAdminKey)
	require.Equal(t, http.StatusCreated, status, "create invitation body: %v", body)
	inv, ok := body["invitation"].(map[string]any)
	require.True(t, ok)
	return inv["code"].(string)
}
