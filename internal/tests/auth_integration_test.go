package tests

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestValidation(t *testing.T) {
	ts := newTestServer(t)

	cases := []struct {
		name string
		path string
		body any
	}{
		{"malformed json", "/api/auth/send-verification", `{"phone_number":`},
		{"missing invitation", "/api/auth/send-verification", map[string]string{"phone_number": testPhone}},
		{"missing phone", "/api/auth/verify-code", map[string]string{"verification_code": "123456", "invitation_code": testInvitation}},
		{"missing code", "/api/auth/verify-code", map[string]string{"phone_number": testPhone, "invitation_code": testInvitation}},
		{"blank invitation", "/api/auth/check-invitation", map[string]string{"invitation_code": "   "}},
		{"missing login phone", "/api/auth/login", map[string]string{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body := ts.post(t, tc.path, tc.body)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Equal(t, "invalid_request", body["code"], "body: %v", body)
			assert.NotEmpty(t, body["error"])
		})
	}

	status, body := ts.post(t, "/api/auth/send-verification", map[string]string{
		"phone_number":    "+34670709259",
		"invitation_code": testInvitation,
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_phone", body["code"])

	status, body = ts.post(t, "/api/auth/check-invitation", map[string]string{"invitation_code": "NOPE99"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, false, body["valid"])
	assert.Equal(t, "invitation_not_found", body["code"])

	status, body = ts.post(t, "/api/auth/login", map[string]string{"phone_number": testPhone})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "user_not_found", body["code"])
}

func TestVerifyCode_attemptLimitOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	code := ts.sendCode(t, testPhone, testInvitation)
	wrong := "000000"
	if code == wrong {
		wrong = "000001"
	}

	verify := func(c string) (int, map[string]any) {
		return ts.post(t, "/api/auth/verify-code", map[string]string{
			"phone_number":      testPhone,
			"verification_code": c,
			"invitation_code":   testInvitation,
		})
	}

	_, body := verify(wrong)
	assert.Equal(t, float64(2), body["attempts_remaining"])
	_, body = verify(wrong)
	assert.Equal(t, float64(1), body["attempts_remaining"])
	status, body := verify(wrong)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "too_many_attempts", body["code"])
	_, hasRemaining := body["attempts_remaining"]
	assert.False(t, hasRemaining)

	status, body = verify(code)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "code_not_found", body["code"])

	// A fresh code works against the still-active invitation.
	code = ts.sendCode(t, testPhone, testInvitation)
	status, _ = verify(code)
	assert.Equal(t, http.StatusCreated, status)
}

func TestVerifyCode_concurrentRedemptionOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	const n = 6
	phones := make([]string, n)
	codes := make([]string, n)
	for i := range phones {
		phones[i] = fmt.Sprintf("+1555000010%d", i)
		codes[i] = ts.sendCode(t, phones[i], testInvitation)
	}

	statuses := make([]int, n)
	bodies := make([]map[string]any, n)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			statuses[i], bodies[i] = ts.post(t, "/api/auth/verify-code", map[string]string{
				"phone_number":      phones[i],
				"verification_code": codes[i],
				"invitation_code":   testInvitation,
			})
		}(i)
	}
	close(start)
	wg.Wait()

	created := 0
	for i, status := range statuses {
		if status == http.StatusCreated {
			created++
			continue
		}
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "invitation_used", bodies[i]["code"])
	}
	assert.Equal(t, 1, created, "exactly one phone may redeem the invitation")

	inv, err := ts.Store.Invitations.GetByCode(context.Background(), testInvitation)
	require.NoError(t, err)
	assert.False(t, inv.IsActive)
}

func TestAdminInvitations(t *testing.T) {
	ts := newTestServer(t)

	t.Run("requires admin key", func(t *testing.T) {
		status, body := ts.post(t, "/api/admin/invitations", map[string]string{"created_by_phone": adminPhone})
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.Equal(t, "unauthorized", body["code"])

		status, _ = ts.post(t, "/api/admin/invitations", map[string]string{"created_by_phone": adminPhone},
			"Authorization", "Bearer wrong")
		assert.Equal(t, http.StatusUnauthorized, status)
	})

	t.Run("explicit and minted codes", func(t *testing.T) {
		assert.Equal(t, "FRIENDS-2026", ts.createInvitation(t, "friends-2026"))

		minted := ts.createInvitation(t, "")
		assert.Len(t, minted, 8)

		status, body := ts.post(t, "/api/auth/check-invitation", map[string]string{"invitation_code": minted})
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, true, body["valid"])
	})

	t.Run("duplicate code", func(t *testing.T) {
		status, body := ts.post(t, "/api/admin/invitations", map[string]string{
			"created_by_phone": adminPhone,
			"code":             testInvitation,
		}, "Authorization", "Bearer "+testAdminKey)
		assert.Equal(t, http.StatusConflict, status)
		assert.Equal(t, "invitation_exists", body["code"])
	})

	t.Run("unknown creator", func(t *testing.T) {
		status, body := ts.post(t, "/api/admin/invitations", map[string]string{
			"created_by_phone": "+15559999999",
		}, "Authorization", "Bearer "+testAdminKey)
		assert.Equal(t, http.StatusNotFound, status)
		assert.Equal(t, "user_not_found", body["code"])
	})

	t.Run("non-admin creator", func(t *testing.T) {
		code := ts.sendCode(t, testPhone, testInvitation)
		status, _ := ts.post(t, "/api/auth/verify-code", map[string]string{
			"phone_number":      testPhone,
			"verification_code": code,
			"invitation_code":   testInvitation,
		})
		require.Equal(t, http.StatusCreated, status)

		status, body := ts.post(t, "/api/admin/invitations", map[string]string{
			"created_by_phone": testPhone,
		}, "Authorization", "Bearer "+testAdminKey)
		assert.Equal(t, http.StatusForbidden, status)
		assert.Equal(t, "forbidden", body["code"])
	})
}

func TestAdminRoutesDisabledWithoutKey(t *testing.T) {
	ts := newTestServer(t, func(o *serverOptions) { o.adminKey = "" })

	req, err := http.NewRequest(http.MethodPost, ts.BaseURL()+"/api/admin/invitations", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer ")
	resp, err := ts.Server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
