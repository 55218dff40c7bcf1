package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"lexremind/internal/auth"
	"lexremind/internal/config"
	"lexremind/internal/db"
	"lexremind/internal/directory"
	"lexremind/internal/dispatch"
	"lexremind/internal/notify"
	"lexremind/internal/service"
	"lexremind/internal/store"
)

func testConfig() config.Config {
	return config.Config{
		ListenAddr:          ":8080",
		ConfirmBaseURL:      "https://app.example.com",
		SessionIdleMinutes:  30,
		SessionAbsoluteHour: 24,
		TrustProxy:          false,
		PasswordMinLength:   12,
		PasswordMaxLength:   128,
		ReminderSender:      "log",
		ReminderFrom:        "compliance@example.com",
		DispatchIntervalSec: 60,
		DispatchMaxAttempts: 3,
		DispatchBatchSize:   50,
		OverdueGraceDays:    7,
	}
}

func newTestRouter(t *testing.T) (http.Handler, *store.Store) {
	t.Helper()
	sqdb, err := db.OpenSQLite(filepath.Join(t.TempDir(), "app.db"), 1, 1, time.Minute)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sqdb.Close() })
	if err := db.ApplyMigrationFile(sqdb, filepath.Join("..", "..", "migrations", "001_init.sql")); err != nil {
		t.Fatalf("apply migration: %v", err)
	}

	st := store.New(sqdb)
	pwHash, err := auth.HashPassword("SecretPass123!")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if err := st.EnsureAdmin(context.Background(), "admin@example.com", "Administrator", pwHash); err != nil {
		t.Fatalf("ensure admin: %v", err)
	}

	cfg := testConfig()
	svc := service.New(cfg, st, directory.NoDirectory{})
	dispatcher := dispatch.New(cfg, st, notify.LogSender{})
	return NewRouter(cfg, svc, dispatcher), st
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func loginAdmin(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/api/v1/login", "", map[string]string{
		"email":    "admin@example.com",
		"password": "SecretPass123!",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status=%d body=%s", rec.Code, rec.Body.String())
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if out.Token == "" {
		t.Fatalf("empty session token")
	}
	return out.Token
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func createRecord(t *testing.T, h http.Handler, token, name, dueDate, frequency string) string {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/api/v1/compliance-records", token, map[string]string{
		"name":        name,
		"description": "test obligation",
		"due_date":    dueDate,
		"frequency":   frequency,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create record status=%d body=%s", rec.Code, rec.Body.String())
	}
	var out struct {
		ID string `json:"id"`
	}
	decodeBody(t, rec, &out)
	return out.ID
}

func addManualRecipient(t *testing.T, h http.Handler, token, recordID, name, email string) string {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/api/v1/compliance-records/"+recordID+"/recipients", token, map[string]string{
		"name":  name,
		"email": email,
		"role":  "primary",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add recipient status=%d body=%s", rec.Code, rec.Body.String())
	}
	var out struct {
		ID string `json:"id"`
	}
	decodeBody(t, rec, &out)
	return out.ID
}
