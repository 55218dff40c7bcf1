package service

import (
	"context"
	"encoding/json"
	"errors"
	netmail "net/mail"
	"strings"
	"time"

	"lexremind/internal/auth"
	"lexremind/internal/directory"
	"lexremind/internal/models"
	"lexremind/internal/store"
)

func (s *Service) CreateRecord(ctx context.Context, actorID, name, description string, dueDate time.Time, freq models.Frequency) (models.ComplianceRecord, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.ComplianceRecord{}, validationf("name is required")
	}
	if dueDate.IsZero() {
		return models.ComplianceRecord{}, validationf("due_date is required")
	}
	if !models.ValidFrequency(freq) {
		return models.ComplianceRecord{}, validationf("invalid frequency %q", freq)
	}
	rec, err := s.st.CreateRecord(ctx, models.ComplianceRecord{
		Name:        name,
		Description: strings.TrimSpace(description),
		DueDate:     dueDate.UTC(),
		Frequency:   freq,
		CreatedBy:   actorID,
	})
	if err != nil {
		return models.ComplianceRecord{}, err
	}
	meta, _ := json.Marshal(map[string]string{"name": name})
	_ = s.st.InsertAudit(ctx, actorID, "record.create", rec.ID, string(meta))
	return rec, nil
}

func (s *Service) GetRecord(ctx context.Context, id string) (models.ComplianceRecord, error) {
	return s.st.GetRecord(ctx, id)
}

func (s *Service) ListRecords(ctx context.Context, limit, offset int) ([]models.ComplianceRecord, error) {
	return s.st.ListRecords(ctx, limit, offset)
}

func (s *Service) UpdateRecord(ctx context.Context, actorID, id, name, description string, dueDate time.Time, freq models.Frequency) (models.ComplianceRecord, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.ComplianceRecord{}, validationf("name is required")
	}
	if dueDate.IsZero() {
		return models.ComplianceRecord{}, validationf("due_date is required")
	}
	if !models.ValidFrequency(freq) {
		return models.ComplianceRecord{}, validationf("invalid frequency %q", freq)
	}
	if err := s.st.UpdateRecord(ctx, id, name, strings.TrimSpace(description), dueDate.UTC(), freq); err != nil {
		return models.ComplianceRecord{}, err
	}
	_ = s.st.InsertAudit(ctx, actorID, "record.update", id, `{}`)
	return s.st.GetRecord(ctx, id)
}

func (s *Service) DeleteRecord(ctx context.Context, actorID, id string) error {
	if err := s.st.DeleteRecord(ctx, id); err != nil {
		return err
	}
	return s.st.InsertAudit(ctx, actorID, "record.delete", id, `{}`)
}

// AddRecipientRequest names the target of a new recipient. At most one of
// UserID and ExternalID may be set; with neither, Email and Name describe a
// manual entry.
type AddRecipientRequest struct {
	UserID     string
	ExternalID string
	Email      string
	Name       string
	Role       string
}

// AddRecipient registers a notification target on a record. Internal and
// external references resolve to a snapshot of the person's current email
// and name; later changes at the source do not propagate.
func (s *Service) AddRecipient(ctx context.Context, actorID, recordID string, req AddRecipientRequest) (models.Recipient, error) {
	if _, err := s.st.GetRecord(ctx, recordID); err != nil {
		return models.Recipient{}, err
	}
	if req.UserID != "" && req.ExternalID != "" {
		return models.Recipient{}, validationf("user_id and external_user_id are mutually exclusive")
	}

	r := models.Recipient{RecordID: recordID, Role: strings.TrimSpace(req.Role)}
	switch {
	case req.UserID != "":
		u, err := s.st.GetUserByID(ctx, req.UserID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return models.Recipient{}, validationf("unknown user %q", req.UserID)
			}
			return models.Recipient{}, err
		}
		id := u.ID
		r.UserID = &id
		r.Email = u.Email
		r.Name = u.Name
	case req.ExternalID != "":
		p, err := s.dir.LookupContact(ctx, req.ExternalID)
		if err != nil {
			if errors.Is(err, directory.ErrContactNotFound) || errors.Is(err, directory.ErrUnavailable) {
				return models.Recipient{}, validationf("unknown external contact %q", req.ExternalID)
			}
			return models.Recipient{}, err
		}
		id := p.ID
		r.ExternalID = &id
		r.Email = p.Email
		r.Name = p.Name
	default:
		r.Email = strings.ToLower(strings.TrimSpace(req.Email))
		r.Name = strings.TrimSpace(req.Name)
		if _, err := netmail.ParseAddress(r.Email); err != nil {
			return models.Recipient{}, validationf("invalid email address")
		}
		if r.Name == "" {
			return models.Recipient{}, validationf("name is required for manual recipients")
		}
	}
	if r.Email == "" {
		return models.Recipient{}, validationf("resolved recipient has no email address")
	}

	out, err := s.st.AddRecipient(ctx, r)
	if err != nil {
		return models.Recipient{}, err
	}
	meta, _ := json.Marshal(map[string]string{"email": out.Email, "provenance": out.Provenance()})
	_ = s.st.InsertAudit(ctx, actorID, "recipient.add", out.ID, string(meta))
	return out, nil
}

func (s *Service) ListRecipients(ctx context.Context, recordID string) ([]models.Recipient, error) {
	if _, err := s.st.GetRecord(ctx, recordID); err != nil {
		return nil, err
	}
	return s.st.ListRecipients(ctx, recordID)
}

// RemoveRecipient deletes a recipient and retires their undispatched
// reminders. Removing an already-removed recipient succeeds.
func (s *Service) RemoveRecipient(ctx context.Context, actorID, recipientID string) error {
	if err := s.st.SupersedePendingForRecipient(ctx, recipientID); err != nil {
		return err
	}
	err := s.st.DeleteRecipient(ctx, recipientID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.st.InsertAudit(ctx, actorID, "recipient.remove", recipientID, `{}`)
}

// milestoneOffsets orders the reminder milestones of one due-date cycle.
func (s *Service) milestoneOffsets() []struct {
	Type models.ReminderType
	Days int
} {
	return []struct {
		Type models.ReminderType
		Days int
	}{
		{models.ReminderTwoWeeks, -14},
		{models.ReminderOneWeek, -7},
		{models.ReminderDueDate, 0},
		{models.ReminderOverdue, s.cfg.OverdueGraceDays},
	}
}

// ScheduleReminders creates the missing reminder instances for the record's
// current due-date cycle: one per (recipient, milestone), each with its own
// confirmation token. Milestones already in the past are skipped, and pairs
// that already carry a live reminder for this cycle are left alone, so the
// operation can be repeated safely.
func (s *Service) ScheduleReminders(ctx context.Context, actorID, recordID string) ([]models.Reminder, error) {
	rec, err := s.st.GetRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	recipients, err := s.st.ListRecipients(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}

	cycle := rec.DueDate.UTC()
	active, err := s.st.ActiveReminderKeys(ctx, recordID, cycle)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	created := []models.Reminder{}
	for _, rc := range recipients {
		for _, m := range s.milestoneOffsets() {
			scheduled := cycle.AddDate(0, 0, m.Days)
			if scheduled.Before(now) && m.Type != models.ReminderOverdue {
				continue
			}
			if active[rc.ID+"|"+string(m.Type)] {
				continue
			}
			token, err := auth.NewLinkToken()
			if err != nil {
				return nil, err
			}
			rem, err := s.st.InsertReminder(ctx, models.Reminder{
				RecordID:      recordID,
				RecipientID:   rc.ID,
				Type:          m.Type,
				CycleDueDate:  cycle,
				ScheduledDate: scheduled,
				Token:         token,
			})
			if errors.Is(err, store.ErrConflict) {
				continue
			}
			if err != nil {
				return nil, err
			}
			created = append(created, rem)
		}
	}
	meta, _ := json.Marshal(map[string]any{"cycle_due_date": cycle.Format(time.RFC3339), "created": len(created)})
	_ = s.st.InsertAudit(ctx, actorID, "reminders.schedule", recordID, string(meta))
	return created, nil
}

func (s *Service) ListReminders(ctx context.Context, recordID string) ([]models.Reminder, error) {
	if _, err := s.st.GetRecord(ctx, recordID); err != nil {
		return nil, err
	}
	return s.st.ListReminders(ctx, recordID)
}

func (s *Service) RequeueReminder(ctx context.Context, actorID, reminderID string) error {
	if err := s.st.RequeueReminder(ctx, reminderID); err != nil {
		return err
	}
	return s.st.InsertAudit(ctx, actorID, "reminder.requeue", reminderID, `{}`)
}

// ConfirmView is what the public gateway exposes about a live token: enough
// for the recipient to recognize the obligation, nothing more.
type ConfirmView struct {
	RecordName        string
	RecordDescription string
	DueDate           time.Time
	RecipientName     string
	ReminderType      models.ReminderType
}

func (s *Service) ResolveConfirmToken(ctx context.Context, token string) (ConfirmView, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return ConfirmView{}, store.ErrNotFound
	}
	cc, err := s.st.GetConfirmationByToken(ctx, token)
	if err != nil {
		return ConfirmView{}, err
	}
	return ConfirmView{
		RecordName:        cc.Record.Name,
		RecordDescription: cc.Record.Description,
		DueDate:           cc.Reminder.CycleDueDate,
		RecipientName:     cc.Recipient.Name,
		ReminderType:      cc.Reminder.Type,
	}, nil
}

// Confirm consumes a confirmation token. On success the cycle's remaining
// reminders are superseded and, for renewing confirmation types on recurring
// records, the record due date advances one cycle.
func (s *Service) Confirm(ctx context.Context, token, confirmedBy, confirmedEmail string, ctype models.ConfirmationType, notes string) (models.Confirmation, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return models.Confirmation{}, store.ErrNotFound
	}
	confirmedBy = strings.TrimSpace(confirmedBy)
	confirmedEmail = strings.ToLower(strings.TrimSpace(confirmedEmail))
	if confirmedBy == "" {
		return models.Confirmation{}, validationf("confirmed_by is required")
	}
	if _, err := netmail.ParseAddress(confirmedEmail); err != nil {
		return models.Confirmation{}, validationf("invalid confirmed_email address")
	}
	if !models.ValidConfirmationType(ctype) {
		return models.Confirmation{}, validationf("invalid confirmation type %q", ctype)
	}

	cc, err := s.st.GetConfirmationByToken(ctx, token)
	if err != nil {
		return models.Confirmation{}, err
	}

	now := time.Now().UTC()
	rem, err := s.st.ConsumeReminderToken(ctx, token, confirmedBy, now)
	if err != nil {
		return models.Confirmation{}, err
	}

	conf, err := s.st.InsertConfirmation(ctx, models.Confirmation{
		RecordID:         rem.RecordID,
		ReminderID:       rem.ID,
		ConfirmedBy:      confirmedBy,
		ConfirmedEmail:   confirmedEmail,
		ConfirmationType: ctype,
		Notes:            strings.TrimSpace(notes),
	})
	if err != nil {
		return models.Confirmation{}, err
	}

	if err := s.st.SupersedeCycleSiblings(ctx, rem.RecordID, rem.CycleDueDate, rem.ID); err != nil {
		return models.Confirmation{}, err
	}

	var nextDue *time.Time
	if ctype.AdvancesDueDate() && cc.Record.Frequency != models.FrequencyOneTime {
		nd := NextDueDate(cc.Record.DueDate, cc.Record.Frequency)
		nextDue = &nd
	}
	if err := s.st.SetRecordConfirmed(ctx, rem.RecordID, now, ctype, nextDue); err != nil {
		return models.Confirmation{}, err
	}

	meta, _ := json.Marshal(map[string]string{"reminder_id": rem.ID, "type": string(ctype), "email": confirmedEmail})
	_ = s.st.InsertAudit(ctx, "", "record.confirm", rem.RecordID, string(meta))
	return conf, nil
}

func (s *Service) ListConfirmations(ctx context.Context, recordID string) ([]models.Confirmation, error) {
	if _, err := s.st.GetRecord(ctx, recordID); err != nil {
		return nil, err
	}
	return s.st.ListConfirmations(ctx, recordID)
}

// NextDueDate advances a due date by one cycle of the given frequency.
// Calendar arithmetic follows time.AddDate, so a Jan 31 monthly cycle lands
// on Mar 2 or 3 rather than silently clamping.
func NextDueDate(due time.Time, freq models.Frequency) time.Time {
	switch freq {
	case models.FrequencyMonthly:
		return due.AddDate(0, 1, 0)
	case models.FrequencyQuarterly:
		return due.AddDate(0, 3, 0)
	case models.FrequencySemiannual:
		return due.AddDate(0, 6, 0)
	case models.FrequencyAnnual:
		return due.AddDate(1, 0, 0)
	default:
		return due
	}
}
