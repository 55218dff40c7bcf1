package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"lexremind/internal/models"
	"lexremind/internal/store"
)

// sentReminder schedules reminders on a fresh record and promotes the first
// one to sent so its token is live.
func sentReminder(t *testing.T, h http.Handler, st *store.Store, token string) (recordID string, rem models.Reminder) {
	t.Helper()
	due := time.Now().UTC().AddDate(0, 2, 0).Format("2006-01-02")
	recordID = createRecord(t, h, token, "License renewal", due, "annual")
	addManualRecipient(t, h, token, recordID, "Jane Doe", "jane@example.com")

	rec := doJSON(t, h, http.MethodPost, "/api/v1/compliance-records/"+recordID+"/schedule-reminders", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("schedule status=%d body=%s", rec.Code, rec.Body.String())
	}

	reminders, err := st.ListReminders(context.Background(), recordID)
	if err != nil {
		t.Fatalf("list reminders: %v", err)
	}
	if len(reminders) == 0 {
		t.Fatalf("no reminders scheduled")
	}
	rem = reminders[0]
	if err := st.MarkReminderSent(context.Background(), rem.ID, time.Now().UTC()); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	return recordID, rem
}

func TestResolveConfirmToken(t *testing.T) {
	h, st := newTestRouter(t)
	token := loginAdmin(t, h)
	_, rem := sentReminder(t, h, st, token)

	rec := doJSON(t, h, http.MethodGet, "/api/v1/compliance-confirm/"+rem.Token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve status=%d body=%s", rec.Code, rec.Body.String())
	}
	var out struct {
		Record struct {
			Name string `json:"name"`
		} `json:"record"`
		Recipient struct {
			Name string `json:"name"`
		} `json:"recipient"`
	}
	decodeBody(t, rec, &out)
	if out.Record.Name != "License renewal" || out.Recipient.Name != "Jane Doe" {
		t.Fatalf("unexpected resolve payload: %+v", out)
	}
}

func TestResolveUnknownTokenGeneric404(t *testing.T) {
	h, _ := newTestRouter(t)
	rec := doJSON(t, h, http.MethodGet, "/api/v1/compliance-confirm/dGhpcy1pcy1ub3QtYS1yZWFsLXRva2Vu", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown token, got %d", rec.Code)
	}
	var errBody struct {
		Code string `json:"code"`
	}
	decodeBody(t, rec, &errBody)
	if errBody.Code != "invalid_or_expired" {
		t.Fatalf("expected invalid_or_expired, got %q", errBody.Code)
	}
}

func TestResolvePendingTokenNotLive(t *testing.T) {
	h, st := newTestRouter(t)
	token := loginAdmin(t, h)
	recordID, _ := sentReminder(t, h, st, token)

	// pick a sibling still in pending
	reminders, err := st.ListReminders(context.Background(), recordID)
	if err != nil {
		t.Fatalf("list reminders: %v", err)
	}
	var pending string
	for _, r := range reminders {
		if r.Status == models.ReminderPending {
			pending = r.Token
			break
		}
	}
	if pending == "" {
		t.Fatalf("no pending sibling found")
	}
	rec := doJSON(t, h, http.MethodGet, "/api/v1/compliance-confirm/"+pending, "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("pending token must not resolve, got %d", rec.Code)
	}
}

func TestConfirmOnceAndReplay(t *testing.T) {
	h, st := newTestRouter(t)
	token := loginAdmin(t, h)
	recordID, rem := sentReminder(t, h, st, token)

	body := map[string]string{
		"confirmed_by":      "Jane Doe",
		"confirmed_email":   "jane@example.com",
		"confirmation_type": "renewed",
		"notes":             "renewed at the registry office",
	}
	rec := doJSON(t, h, http.MethodPost, "/api/v1/compliance-confirm/"+rem.Token, "", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("confirm status=%d body=%s", rec.Code, rec.Body.String())
	}
	var conf struct {
		ConfirmationType string `json:"confirmation_type"`
		ConfirmedBy      string `json:"confirmed_by"`
	}
	decodeBody(t, rec, &conf)
	if conf.ConfirmationType != "renewed" || conf.ConfirmedBy != "Jane Doe" {
		t.Fatalf("unexpected confirmation: %+v", conf)
	}

	// replay must be indistinguishable from an unknown token
	rec = doJSON(t, h, http.MethodPost, "/api/v1/compliance-confirm/"+rem.Token, "", body)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on replay, got %d", rec.Code)
	}
	var errBody struct {
		Code string `json:"code"`
	}
	decodeBody(t, rec, &errBody)
	if errBody.Code != "invalid_or_expired" {
		t.Fatalf("expected invalid_or_expired on replay, got %q", errBody.Code)
	}

	// siblings of the confirmed cycle are superseded
	reminders, err := st.ListReminders(context.Background(), recordID)
	if err != nil {
		t.Fatalf("list reminders: %v", err)
	}
	for _, r := range reminders {
		switch r.ID {
		case rem.ID:
			if r.Status != models.ReminderConfirmed {
				t.Fatalf("expected confirmed reminder, got %q", r.Status)
			}
		default:
			if r.Status != models.ReminderSuperseded {
				t.Fatalf("expected superseded sibling, got %q", r.Status)
			}
		}
	}
}

func TestConfirmRenewedAdvancesDueDate(t *testing.T) {
	h, st := newTestRouter(t)
	token := loginAdmin(t, h)
	recordID, rem := sentReminder(t, h, st, token)

	before, err := st.GetRecord(context.Background(), recordID)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}

	rec := doJSON(t, h, http.MethodPost, "/api/v1/compliance-confirm/"+rem.Token, "", map[string]string{
		"confirmed_by":      "Jane Doe",
		"confirmed_email":   "jane@example.com",
		"confirmation_type": "renewed",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("confirm status=%d body=%s", rec.Code, rec.Body.String())
	}

	after, err := st.GetRecord(context.Background(), recordID)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	want := before.DueDate.AddDate(1, 0, 0)
	if !after.DueDate.Equal(want) {
		t.Fatalf("due date not advanced: before=%v after=%v want=%v", before.DueDate, after.DueDate, want)
	}
	if after.LastConfirmedAt == nil || after.LastConfirmationType != "renewed" {
		t.Fatalf("confirmation not stamped on record: %+v", after)
	}
}

func TestConfirmSubmittedKeepsDueDate(t *testing.T) {
	h, st := newTestRouter(t)
	token := loginAdmin(t, h)
	recordID, rem := sentReminder(t, h, st, token)

	before, _ := st.GetRecord(context.Background(), recordID)
	rec := doJSON(t, h, http.MethodPost, "/api/v1/compliance-confirm/"+rem.Token, "", map[string]string{
		"confirmed_by":      "Jane Doe",
		"confirmed_email":   "jane@example.com",
		"confirmation_type": "submitted",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("confirm status=%d", rec.Code)
	}
	after, _ := st.GetRecord(context.Background(), recordID)
	if !after.DueDate.Equal(before.DueDate) {
		t.Fatalf("submitted must not advance due date: before=%v after=%v", before.DueDate, after.DueDate)
	}
}

func TestConfirmValidation(t *testing.T) {
	h, st := newTestRouter(t)
	token := loginAdmin(t, h)
	_, rem := sentReminder(t, h, st, token)

	cases := []map[string]string{
		{"confirmed_by": "", "confirmed_email": "jane@example.com", "confirmation_type": "renewed"},
		{"confirmed_by": "Jane", "confirmed_email": "nope", "confirmation_type": "renewed"},
		{"confirmed_by": "Jane", "confirmed_email": "jane@example.com", "confirmation_type": "perhaps"},
	}
	for i, body := range cases {
		rec := doJSON(t, h, http.MethodPost, "/api/v1/compliance-confirm/"+rem.Token, "", body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("case %d: expected 400, got %d", i, rec.Code)
		}
	}

	// the token must still be live after failed validation
	rec := doJSON(t, h, http.MethodGet, "/api/v1/compliance-confirm/"+rem.Token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("token consumed by failed validation, status=%d", rec.Code)
	}
}
