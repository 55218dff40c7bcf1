package api

import (
	"context"
	"net/http"
	"testing"
	"time"
)

func TestAddManualRecipient(t *testing.T) {
	h, _ := newTestRouter(t)
	token := loginAdmin(t, h)
	due := time.Now().UTC().AddDate(0, 2, 0).Format("2006-01-02")
	recordID := createRecord(t, h, token, "Trust account audit", due, "annual")

	addManualRecipient(t, h, token, recordID, "Jane Doe", "jane@example.com")

	rec := doJSON(t, h, http.MethodGet, "/api/v1/compliance-records/"+recordID+"/recipients", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list recipients status=%d", rec.Code)
	}
	var list struct {
		Items []struct {
			Email      string `json:"email"`
			Name       string `json:"name"`
			Role       string `json:"role"`
			Provenance string `json:"provenance"`
		} `json:"items"`
	}
	decodeBody(t, rec, &list)
	if len(list.Items) != 1 {
		t.Fatalf("expected 1 recipient, got %d", len(list.Items))
	}
	got := list.Items[0]
	if got.Email != "jane@example.com" || got.Name != "Jane Doe" || got.Role != "primary" {
		t.Fatalf("unexpected recipient: %+v", got)
	}
	if got.Provenance != "manual" {
		t.Fatalf("expected manual provenance, got %q", got.Provenance)
	}
}

func TestAddInternalRecipientCopiesUser(t *testing.T) {
	h, st := newTestRouter(t)
	token := loginAdmin(t, h)
	due := time.Now().UTC().AddDate(0, 2, 0).Format("2006-01-02")
	recordID := createRecord(t, h, token, "Professional indemnity renewal", due, "annual")

	admin, err := st.GetUserByEmail(context.Background(), "admin@example.com")
	if err != nil {
		t.Fatalf("get admin: %v", err)
	}

	rec := doJSON(t, h, http.MethodPost, "/api/v1/compliance-records/"+recordID+"/recipients", token, map[string]string{
		"user_id": admin.ID,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add internal recipient status=%d body=%s", rec.Code, rec.Body.String())
	}
	var got struct {
		Email      string `json:"email"`
		Provenance string `json:"provenance"`
	}
	decodeBody(t, rec, &got)
	if got.Email != "admin@example.com" || got.Provenance != "internal" {
		t.Fatalf("unexpected internal recipient: %+v", got)
	}
}

func TestAddRecipientValidation(t *testing.T) {
	h, st := newTestRouter(t)
	token := loginAdmin(t, h)
	due := time.Now().UTC().AddDate(0, 2, 0).Format("2006-01-02")
	recordID := createRecord(t, h, token, "Annual filing", due, "annual")

	admin, err := st.GetUserByEmail(context.Background(), "admin@example.com")
	if err != nil {
		t.Fatalf("get admin: %v", err)
	}

	// both references at once
	rec := doJSON(t, h, http.MethodPost, "/api/v1/compliance-records/"+recordID+"/recipients", token, map[string]string{
		"user_id":          admin.ID,
		"external_user_id": "ext-1",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for double reference, got %d", rec.Code)
	}

	// external reference without a configured directory
	rec = doJSON(t, h, http.MethodPost, "/api/v1/compliance-records/"+recordID+"/recipients", token, map[string]string{
		"external_user_id": "ext-1",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for external lookup without directory, got %d", rec.Code)
	}

	// manual entry with broken email
	rec = doJSON(t, h, http.MethodPost, "/api/v1/compliance-records/"+recordID+"/recipients", token, map[string]string{
		"name":  "Jane",
		"email": "not-an-email",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid email, got %d", rec.Code)
	}

	// unknown record
	rec = doJSON(t, h, http.MethodPost, "/api/v1/compliance-records/00000000-0000-0000-0000-000000000000/recipients", token, map[string]string{
		"name":  "Jane",
		"email": "jane@example.com",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown record, got %d", rec.Code)
	}
}

func TestRemoveRecipientIdempotent(t *testing.T) {
	h, _ := newTestRouter(t)
	token := loginAdmin(t, h)
	due := time.Now().UTC().AddDate(0, 2, 0).Format("2006-01-02")
	recordID := createRecord(t, h, token, "Registration renewal", due, "annual")
	recipientID := addManualRecipient(t, h, token, recordID, "Jane Doe", "jane@example.com")

	rec := doJSON(t, h, http.MethodDelete, "/api/v1/compliance-records/recipients/"+recipientID, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("first delete status=%d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodDelete, "/api/v1/compliance-records/recipients/"+recipientID, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("second delete should succeed, got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/compliance-records/"+recordID+"/recipients", token, nil)
	var list struct {
		Items []any `json:"items"`
	}
	decodeBody(t, rec, &list)
	if len(list.Items) != 0 {
		t.Fatalf("expected empty recipient list, got %d", len(list.Items))
	}
}

func TestRemoveRecipientSupersedesPending(t *testing.T) {
	h, _ := newTestRouter(t)
	token := loginAdmin(t, h)
	due := time.Now().UTC().AddDate(0, 2, 0).Format("2006-01-02")
	recordID := createRecord(t, h, token, "CLE compliance", due, "annual")
	recipientID := addManualRecipient(t, h, token, recordID, "Jane Doe", "jane@example.com")

	rec := doJSON(t, h, http.MethodPost, "/api/v1/compliance-records/"+recordID+"/schedule-reminders", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("schedule status=%d body=%s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodDelete, "/api/v1/compliance-records/recipients/"+recipientID, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status=%d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/compliance-records/"+recordID+"/reminders", token, nil)
	var list struct {
		Items []struct {
			Status string `json:"status"`
		} `json:"items"`
	}
	decodeBody(t, rec, &list)
	if len(list.Items) == 0 {
		t.Fatalf("expected reminders to remain visible")
	}
	for _, item := range list.Items {
		if item.Status != "superseded" {
			t.Fatalf("expected superseded reminder, got %q", item.Status)
		}
	}
}
