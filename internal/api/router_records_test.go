package api

import (
	"net/http"
	"testing"
	"time"
)

func TestRecordCRUD(t *testing.T) {
	h, _ := newTestRouter(t)
	token := loginAdmin(t, h)

	due := time.Now().UTC().AddDate(0, 2, 0).Format("2006-01-02")
	id := createRecord(t, h, token, "Bar license renewal", due, "annual")

	rec := doJSON(t, h, http.MethodGet, "/api/v1/compliance-records/"+id, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status=%d body=%s", rec.Code, rec.Body.String())
	}
	var got struct {
		Name      string `json:"name"`
		Frequency string `json:"frequency"`
	}
	decodeBody(t, rec, &got)
	if got.Name != "Bar license renewal" || got.Frequency != "annual" {
		t.Fatalf("unexpected record: %+v", got)
	}

	rec = doJSON(t, h, http.MethodPut, "/api/v1/compliance-records/"+id, token, map[string]string{
		"name":      "Bar license renewal (state)",
		"due_date":  due,
		"frequency": "annual",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update status=%d body=%s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/compliance-records", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status=%d", rec.Code)
	}
	var list struct {
		Items []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"items"`
	}
	decodeBody(t, rec, &list)
	if len(list.Items) != 1 || list.Items[0].Name != "Bar license renewal (state)" {
		t.Fatalf("unexpected listing: %+v", list.Items)
	}

	rec = doJSON(t, h, http.MethodDelete, "/api/v1/compliance-records/"+id, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status=%d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodGet, "/api/v1/compliance-records/"+id, token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestCreateRecordValidation(t *testing.T) {
	h, _ := newTestRouter(t)
	token := loginAdmin(t, h)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/compliance-records", token, map[string]string{
		"name":      "",
		"due_date":  "2031-06-01",
		"frequency": "annual",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing name, got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/v1/compliance-records", token, map[string]string{
		"name":      "Filing",
		"due_date":  "2031-06-01",
		"frequency": "fortnightly",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad frequency, got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/v1/compliance-records", token, map[string]string{
		"name":      "Filing",
		"due_date":  "not-a-date",
		"frequency": "annual",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad due_date, got %d", rec.Code)
	}
}
