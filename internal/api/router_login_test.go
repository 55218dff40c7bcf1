package api

import (
	"net/http"
	"testing"
)

func TestLoginAndMe(t *testing.T) {
	h, _ := newTestRouter(t)
	token := loginAdmin(t, h)

	rec := doJSON(t, h, http.MethodGet, "/api/v1/me", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("me status=%d body=%s", rec.Code, rec.Body.String())
	}
	var me struct {
		Email string `json:"email"`
		Role  string `json:"role"`
	}
	decodeBody(t, rec, &me)
	if me.Email != "admin@example.com" || me.Role != "admin" {
		t.Fatalf("unexpected me payload: %+v", me)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	h, _ := newTestRouter(t)
	rec := doJSON(t, h, http.MethodPost, "/api/v1/login", "", map[string]string{
		"email":    "admin@example.com",
		"password": "wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	h, _ := newTestRouter(t)
	rec := doJSON(t, h, http.MethodGet, "/api/v1/compliance-records", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodGet, "/api/v1/compliance-records", "bogus-token", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bogus token, got %d", rec.Code)
	}
}

func TestLogoutRevokesSession(t *testing.T) {
	h, _ := newTestRouter(t)
	token := loginAdmin(t, h)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/logout", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("logout status=%d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodGet, "/api/v1/me", token, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", rec.Code)
	}
}
