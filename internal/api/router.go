package api

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"lexremind/internal/config"
	"lexremind/internal/dispatch"
	"lexremind/internal/middleware"
	"lexremind/internal/models"
	"lexremind/internal/rate"
	"lexremind/internal/service"
	"lexremind/internal/store"
	"lexremind/internal/util"
	"lexremind/internal/version"
)

type Handlers struct {
	cfg        config.Config
	svc        *service.Service
	dispatcher *dispatch.Dispatcher
	limiter    *rate.Limiter
}

func NewRouter(cfg config.Config, svc *service.Service, dispatcher *dispatch.Dispatcher) http.Handler {
	h := &Handlers{
		cfg:        cfg,
		svc:        svc,
		dispatcher: dispatcher,
		limiter:    rate.NewLimiter(),
	}
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestIDMiddleware)
	r.Use(middleware.RequestLogger)
	r.Use(middleware.SecurityHeaders)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSAllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Authorization"},
		}))
	}

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		util.WriteJSON(w, 200, map[string]any{"status": "ok", "version": version.Current()})
	})
	r.Get("/health/ready", h.HealthReady)

	r.Route("/api/v1", func(r chi.Router) {
		r.With(middleware.RateLimit(h.limiter, "login", 20, time.Minute, h.cfg.TrustProxy)).Post("/login", h.Login)
		r.Post("/logout", h.Logout)

		r.With(middleware.RateLimit(h.limiter, "confirm", 30, time.Minute, h.cfg.TrustProxy)).
			Get("/compliance-confirm/{token}", h.ResolveConfirm)
		r.With(middleware.RateLimit(h.limiter, "confirm", 30, time.Minute, h.cfg.TrustProxy)).
			Post("/compliance-confirm/{token}", h.SubmitConfirm)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Authn(h.svc))
			r.Get("/me", h.Me)

			r.Get("/compliance-records", h.ListRecords)
			r.Post("/compliance-records", h.CreateRecord)
			r.Get("/compliance-records/{id}", h.GetRecord)
			r.Put("/compliance-records/{id}", h.UpdateRecord)
			r.Delete("/compliance-records/{id}", h.DeleteRecord)

			r.Get("/compliance-records/{id}/recipients", h.ListRecipients)
			r.Post("/compliance-records/{id}/recipients", h.AddRecipient)
			r.Delete("/compliance-records/recipients/{recipientID}", h.RemoveRecipient)

			r.Post("/compliance-records/{id}/schedule-reminders", h.ScheduleReminders)
			r.Get("/compliance-records/{id}/reminders", h.ListReminders)
			r.Get("/compliance-records/{id}/confirmations", h.ListConfirmations)

			r.Group(func(r chi.Router) {
				r.Use(middleware.AdminOnly)
				r.Post("/compliance-reminders/send", h.DispatchNow)
				r.Post("/compliance-reminders/{id}/requeue", h.RequeueReminder)
				r.Route("/admin", func(r chi.Router) {
					r.Get("/users", h.AdminListUsers)
					r.Post("/users", h.AdminCreateUser)
					r.Get("/audit-log", h.AdminAuditLog)
				})
			})
		})
	})

	return r
}

func (h *Handlers) HealthReady(w http.ResponseWriter, r *http.Request) {
	ready := map[string]any{
		"checked_at": time.Now().UTC().Format(time.RFC3339),
		"components": map[string]any{},
	}
	comps := ready["components"].(map[string]any)

	ok := true
	if err := h.svc.Store().Ping(r.Context()); err != nil {
		ok = false
		comps["sqlite"] = map[string]any{"ok": false, "error": err.Error()}
	} else {
		comps["sqlite"] = map[string]any{"ok": true}
	}

	if h.cfg.ReminderSender == "smtp" {
		addr := net.JoinHostPort(h.cfg.SMTPHost, strconv.Itoa(h.cfg.SMTPPort))
		conn, err := net.DialTimeout("tcp", addr, 3*time.Second)
		if err != nil {
			ok = false
			comps["smtp"] = map[string]any{"ok": false, "error": err.Error()}
		} else {
			conn.Close()
			comps["smtp"] = map[string]any{"ok": true}
		}
	}

	if ok {
		ready["status"] = "ready"
		util.WriteJSON(w, 200, ready)
		return
	}
	ready["status"] = "degraded"
	util.WriteJSON(w, 503, ready)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		util.WriteError(w, 400, "bad_request", "invalid json", middleware.RequestID(r.Context()))
		return
	}
	token, user, err := h.svc.Login(r.Context(), req.Email, req.Password, r.RemoteAddr, r.UserAgent())
	if err != nil {
		normalizedEmail := strings.ToLower(strings.TrimSpace(req.Email))
		ip := middleware.ClientIP(r, h.cfg.TrustProxy)
		key := ip + "|" + normalizedEmail
		windowStart := time.Now().UTC().Truncate(15 * time.Minute)
		failCount, _ := h.svc.Store().IncrementRateEvent(r.Context(), key, "login_failed", windowStart)
		_ = h.svc.Store().CleanupRateEventsBefore(r.Context(), time.Now().UTC().Add(-24*time.Hour))
		if failCount > 3 {
			backoff := time.Duration(1<<(minInt(failCount-3, 5))) * time.Second
			select {
			case <-time.After(backoff):
			case <-r.Context().Done():
			}
		}

		status := 401
		code := "invalid_credentials"
		if failCount > 6 {
			status, code = 429, "rate_limited"
		}
		util.WriteError(w, status, code, "invalid credentials", middleware.RequestID(r.Context()))
		return
	}
	normalizedEmail := strings.ToLower(strings.TrimSpace(req.Email))
	ip := middleware.ClientIP(r, h.cfg.TrustProxy)
	_ = h.svc.Store().DeleteRateEvents(r.Context(), ip+"|"+normalizedEmail, "login_failed")

	util.WriteJSON(w, 200, map[string]string{
		"token":   token,
		"user_id": user.ID,
		"email":   user.Email,
		"name":    user.Name,
		"role":    user.Role,
	})
}

func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if raw := middleware.BearerToken(r); raw != "" {
		_ = h.svc.Logout(r.Context(), raw)
	}
	util.WriteJSON(w, 200, map[string]string{"status": "ok"})
}

func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	u, _ := middleware.User(r.Context())
	util.WriteJSON(w, 200, map[string]any{"id": u.ID, "email": u.Email, "name": u.Name, "role": u.Role})
}

func (h *Handlers) ResolveConfirm(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.ResolveConfirmToken(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]any{
		"record": map[string]any{
			"name":        view.RecordName,
			"description": view.RecordDescription,
			"due_date":    view.DueDate.Format(time.RFC3339),
		},
		"recipient": map[string]any{"name": view.RecipientName},
		"reminder":  map[string]any{"type": view.ReminderType},
	})
}

type confirmRequest struct {
	ConfirmedBy      string `json:"confirmed_by"`
	ConfirmedEmail   string `json:"confirmed_email"`
	ConfirmationType string `json:"confirmation_type"`
	Notes            string `json:"notes"`
}

func (h *Handlers) SubmitConfirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		util.WriteError(w, 400, "bad_request", "invalid json", middleware.RequestID(r.Context()))
		return
	}
	conf, err := h.svc.Confirm(r.Context(), chi.URLParam(r, "token"),
		req.ConfirmedBy, req.ConfirmedEmail, models.ConfirmationType(req.ConfirmationType), req.Notes)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, confirmationJSON(conf))
}

type recordRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	DueDate     string `json:"due_date"`
	Frequency   string `json:"frequency"`
}

func (h *Handlers) CreateRecord(w http.ResponseWriter, r *http.Request) {
	var req recordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		util.WriteError(w, 400, "bad_request", "invalid json", middleware.RequestID(r.Context()))
		return
	}
	due, err := parseDate(req.DueDate)
	if err != nil {
		util.WriteError(w, 400, "validation_failed", "invalid due_date", middleware.RequestID(r.Context()))
		return
	}
	u, _ := middleware.User(r.Context())
	rec, err := h.svc.CreateRecord(r.Context(), u.ID, req.Name, req.Description, due, models.Frequency(req.Frequency))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 201, recordJSON(rec))
}

func (h *Handlers) GetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.GetRecord(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, recordJSON(rec))
}

func (h *Handlers) ListRecords(w http.ResponseWriter, r *http.Request) {
	page, pageSize := parsePagination(r)
	items, err := h.svc.ListRecords(r.Context(), pageSize, (page-1)*pageSize)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	out := make([]map[string]any, 0, len(items))
	for _, rec := range items {
		out = append(out, recordJSON(rec))
	}
	util.WriteJSON(w, 200, map[string]any{"page": page, "page_size": pageSize, "items": out})
}

func (h *Handlers) UpdateRecord(w http.ResponseWriter, r *http.Request) {
	var req recordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		util.WriteError(w, 400, "bad_request", "invalid json", middleware.RequestID(r.Context()))
		return
	}
	due, err := parseDate(req.DueDate)
	if err != nil {
		util.WriteError(w, 400, "validation_failed", "invalid due_date", middleware.RequestID(r.Context()))
		return
	}
	u, _ := middleware.User(r.Context())
	rec, err := h.svc.UpdateRecord(r.Context(), u.ID, chi.URLParam(r, "id"), req.Name, req.Description, due, models.Frequency(req.Frequency))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, recordJSON(rec))
}

func (h *Handlers) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	u, _ := middleware.User(r.Context())
	if err := h.svc.DeleteRecord(r.Context(), u.ID, chi.URLParam(r, "id")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]string{"status": "deleted"})
}

type recipientRequest struct {
	UserID         string `json:"user_id"`
	ExternalUserID string `json:"external_user_id"`
	Email          string `json:"email"`
	Name           string `json:"name"`
	Role           string `json:"role"`
}

func (h *Handlers) AddRecipient(w http.ResponseWriter, r *http.Request) {
	var req recipientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		util.WriteError(w, 400, "bad_request", "invalid json", middleware.RequestID(r.Context()))
		return
	}
	u, _ := middleware.User(r.Context())
	rc, err := h.svc.AddRecipient(r.Context(), u.ID, chi.URLParam(r, "id"), service.AddRecipientRequest{
		UserID:     req.UserID,
		ExternalID: req.ExternalUserID,
		Email:      req.Email,
		Name:       req.Name,
		Role:       req.Role,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 201, recipientJSON(rc))
}

func (h *Handlers) ListRecipients(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListRecipients(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	out := make([]map[string]any, 0, len(items))
	for _, rc := range items {
		out = append(out, recipientJSON(rc))
	}
	util.WriteJSON(w, 200, map[string]any{"items": out})
}

func (h *Handlers) RemoveRecipient(w http.ResponseWriter, r *http.Request) {
	u, _ := middleware.User(r.Context())
	if err := h.svc.RemoveRecipient(r.Context(), u.ID, chi.URLParam(r, "recipientID")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]string{"status": "removed"})
}

func (h *Handlers) ScheduleReminders(w http.ResponseWriter, r *http.Request) {
	u, _ := middleware.User(r.Context())
	created, err := h.svc.ScheduleReminders(r.Context(), u.ID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	out := make([]map[string]any, 0, len(created))
	for _, rem := range created {
		out = append(out, reminderJSON(rem))
	}
	util.WriteJSON(w, 200, map[string]any{"created": len(created), "items": out})
}

func (h *Handlers) ListReminders(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListReminders(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	out := make([]map[string]any, 0, len(items))
	for _, rem := range items {
		out = append(out, reminderJSON(rem))
	}
	util.WriteJSON(w, 200, map[string]any{"items": out})
}

func (h *Handlers) ListConfirmations(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListConfirmations(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	out := make([]map[string]any, 0, len(items))
	for _, c := range items {
		out = append(out, confirmationJSON(c))
	}
	util.WriteJSON(w, 200, map[string]any{"items": out})
}

func (h *Handlers) DispatchNow(w http.ResponseWriter, r *http.Request) {
	sent, failed, err := h.dispatcher.RunOnce(r.Context())
	if err != nil {
		util.WriteError(w, 500, "internal_error", err.Error(), middleware.RequestID(r.Context()))
		return
	}
	util.WriteJSON(w, 200, map[string]int{"sent": sent, "failed": failed})
}

func (h *Handlers) RequeueReminder(w http.ResponseWriter, r *http.Request) {
	u, _ := middleware.User(r.Context())
	if err := h.svc.RequeueReminder(r.Context(), u.ID, chi.URLParam(r, "id")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]string{"status": "pending"})
}

type createUserRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

func (h *Handlers) AdminCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		util.WriteError(w, 400, "bad_request", "invalid json", middleware.RequestID(r.Context()))
		return
	}
	admin, _ := middleware.User(r.Context())
	u, err := h.svc.CreateUser(r.Context(), admin.ID, req.Email, req.Name, req.Password, req.Role)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 201, userJSON(u))
}

func (h *Handlers) AdminListUsers(w http.ResponseWriter, r *http.Request) {
	page, pageSize := parsePagination(r)
	items, err := h.svc.ListUsers(r.Context(), pageSize, (page-1)*pageSize)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	out := make([]map[string]any, 0, len(items))
	for _, u := range items {
		out = append(out, userJSON(u))
	}
	util.WriteJSON(w, 200, map[string]any{"page": page, "page_size": pageSize, "items": out})
}

func (h *Handlers) AdminAuditLog(w http.ResponseWriter, r *http.Request) {
	page, pageSize := parsePagination(r)
	items, err := h.svc.ListAudit(r.Context(), pageSize, (page-1)*pageSize)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]any{"page": page, "page_size": pageSize, "items": items})
}

// writeServiceError maps service and store sentinels onto the error envelope.
// Confirmation-token misses come through here as ErrNotFound and surface as
// the same generic invalid_or_expired regardless of why the token missed.
func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	rid := middleware.RequestID(r.Context())
	switch {
	case errors.Is(err, service.ErrValidation):
		util.WriteError(w, 400, "validation_failed", err.Error(), rid)
	case errors.Is(err, service.ErrNoRecipients):
		util.WriteError(w, 404, "no_recipients", "record has no recipients to schedule", rid)
	case errors.Is(err, store.ErrNotFound):
		if strings.HasPrefix(r.URL.Path, "/api/v1/compliance-confirm/") {
			util.WriteError(w, 404, "invalid_or_expired", "confirmation link is invalid or has expired", rid)
			return
		}
		util.WriteError(w, 404, "not_found", "resource not found", rid)
	case errors.Is(err, store.ErrConflict):
		util.WriteError(w, 409, "conflict", "resource already exists", rid)
	case errors.Is(err, service.ErrForbidden):
		util.WriteError(w, 403, "forbidden", "not allowed", rid)
	default:
		util.WriteError(w, 500, "internal_error", err.Error(), rid)
	}
}

func recordJSON(rec models.ComplianceRecord) map[string]any {
	out := map[string]any{
		"id":          rec.ID,
		"name":        rec.Name,
		"description": rec.Description,
		"due_date":    rec.DueDate.UTC().Format(time.RFC3339),
		"frequency":   rec.Frequency,
		"created_by":  rec.CreatedBy,
		"created_at":  rec.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at":  rec.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if rec.LastConfirmedAt != nil {
		out["last_confirmed_at"] = rec.LastConfirmedAt.UTC().Format(time.RFC3339)
		out["last_confirmation_type"] = rec.LastConfirmationType
	}
	return out
}

func recipientJSON(rc models.Recipient) map[string]any {
	out := map[string]any{
		"id":         rc.ID,
		"record_id":  rc.RecordID,
		"email":      rc.Email,
		"name":       rc.Name,
		"role":       rc.Role,
		"provenance": rc.Provenance(),
		"created_at": rc.CreatedAt.UTC().Format(time.RFC3339),
	}
	if rc.UserID != nil {
		out["user_id"] = *rc.UserID
	}
	if rc.ExternalID != nil {
		out["external_user_id"] = *rc.ExternalID
	}
	return out
}

func reminderJSON(rem models.Reminder) map[string]any {
	out := map[string]any{
		"id":             rem.ID,
		"record_id":      rem.RecordID,
		"recipient_id":   rem.RecipientID,
		"type":           rem.Type,
		"cycle_due_date": rem.CycleDueDate.UTC().Format(time.RFC3339),
		"scheduled_date": rem.ScheduledDate.UTC().Format(time.RFC3339),
		"status":         rem.Status,
		"attempts":       rem.Attempts,
	}
	if rem.SentAt != nil {
		out["sent_at"] = rem.SentAt.UTC().Format(time.RFC3339)
	}
	if rem.LastError != nil {
		out["last_error"] = *rem.LastError
	}
	if rem.ConfirmedAt != nil {
		out["confirmed_at"] = rem.ConfirmedAt.UTC().Format(time.RFC3339)
	}
	if rem.ConfirmedBy != nil {
		out["confirmed_by"] = *rem.ConfirmedBy
	}
	return out
}

func confirmationJSON(c models.Confirmation) map[string]any {
	return map[string]any{
		"id":                c.ID,
		"record_id":         c.RecordID,
		"reminder_id":       c.ReminderID,
		"confirmed_by":      c.ConfirmedBy,
		"confirmed_email":   c.ConfirmedEmail,
		"confirmation_type": c.ConfirmationType,
		"notes":             c.Notes,
		"created_at":        c.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func userJSON(u models.User) map[string]any {
	out := map[string]any{
		"id":         u.ID,
		"email":      u.Email,
		"name":       u.Name,
		"role":       u.Role,
		"created_at": u.CreatedAt.UTC().Format(time.RFC3339),
	}
	if u.LastLoginAt != nil {
		out["last_login_at"] = u.LastLoginAt.UTC().Format(time.RFC3339)
	}
	return out
}

// parseDate accepts either a bare date or a full RFC 3339 timestamp.
func parseDate(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return t.UTC(), nil
	}
	return time.Parse(time.RFC3339, v)
}

func parsePagination(r *http.Request) (int, int) {
	page := 1
	pageSize := 25
	if v := r.URL.Query().Get("page"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			page = p
		}
	}
	if v := r.URL.Query().Get("page_size"); v != "" {
		if ps, err := strconv.Atoi(v); err == nil {
			if ps < 1 {
				ps = 1
			}
			if ps > 100 {
				ps = 100
			}
			pageSize = ps
		}
	}
	return page, pageSize
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
