package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"lexremind/internal/models"
)

const recordCols = `id,name,description,due_date,frequency,last_confirmed_at,last_confirmation_type,created_by,created_at,updated_at`

func (s *Store) CreateRecord(ctx context.Context, rec models.ComplianceRecord) (models.ComplianceRecord, error) {
	now := time.Now().UTC()
	rec.ID = uuid.NewString()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO compliance_records(id,name,description,due_date,frequency,created_by,created_at,updated_at) VALUES(?,?,?,?,?,?,?,?)`,
		rec.ID, rec.Name, rec.Description, rec.DueDate, rec.Frequency, rec.CreatedBy, rec.CreatedAt, rec.UpdatedAt,
	)
	return rec, err
}

func (s *Store) GetRecord(ctx context.Context, id string) (models.ComplianceRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordCols+` FROM compliance_records WHERE id=?`, id)
	return scanRecord(row)
}

func (s *Store) ListRecords(ctx context.Context, limit, offset int) ([]models.ComplianceRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordCols+` FROM compliance_records ORDER BY due_date ASC, created_at ASC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.ComplianceRecord, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) UpdateRecord(ctx context.Context, id, name, description string, dueDate time.Time, freq models.Frequency) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE compliance_records SET name=?, description=?, due_date=?, frequency=?, updated_at=? WHERE id=?`,
		name, description, dueDate, freq, time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) DeleteRecord(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM compliance_records WHERE id=?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// SetRecordConfirmed stamps the last confirmation on a record and, when
// nextDue is non-nil, advances the due date to the next cycle.
func (s *Store) SetRecordConfirmed(ctx context.Context, id string, at time.Time, ctype models.ConfirmationType, nextDue *time.Time) error {
	now := time.Now().UTC()
	if nextDue != nil {
		_, err := s.db.ExecContext(ctx,
			`UPDATE compliance_records SET last_confirmed_at=?, last_confirmation_type=?, due_date=?, updated_at=? WHERE id=?`,
			at, ctype, *nextDue, now, id,
		)
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE compliance_records SET last_confirmed_at=?, last_confirmation_type=?, updated_at=? WHERE id=?`,
		at, ctype, now, id,
	)
	return err
}

func (s *Store) AddRecipient(ctx context.Context, r models.Recipient) (models.Recipient, error) {
	r.ID = uuid.NewString()
	r.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO compliance_recipients(id,record_id,user_id,external_id,email,name,role,created_at) VALUES(?,?,?,?,?,?,?,?)`,
		r.ID, r.RecordID, r.UserID, r.ExternalID, r.Email, r.Name, r.Role, r.CreatedAt,
	)
	return r, err
}

func (s *Store) GetRecipient(ctx context.Context, id string) (models.Recipient, error) {
	var r models.Recipient
	var userID, externalID sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id,record_id,user_id,external_id,email,name,role,created_at FROM compliance_recipients WHERE id=?`,
		id,
	).Scan(&r.ID, &r.RecordID, &userID, &externalID, &r.Email, &r.Name, &r.Role, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return models.Recipient{}, ErrNotFound
	}
	if err != nil {
		return models.Recipient{}, err
	}
	if userID.Valid {
		v := userID.String
		r.UserID = &v
	}
	if externalID.Valid {
		v := externalID.String
		r.ExternalID = &v
	}
	return r, nil
}

func (s *Store) ListRecipients(ctx context.Context, recordID string) ([]models.Recipient, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id,record_id,user_id,external_id,email,name,role,created_at FROM compliance_recipients WHERE record_id=? ORDER BY created_at ASC, id ASC`,
		recordID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Recipient{}
	for rows.Next() {
		var r models.Recipient
		var userID, externalID sql.NullString
		if err := rows.Scan(&r.ID, &r.RecordID, &userID, &externalID, &r.Email, &r.Name, &r.Role, &r.CreatedAt); err != nil {
			return nil, err
		}
		if userID.Valid {
			v := userID.String
			r.UserID = &v
		}
		if externalID.Valid {
			v := externalID.String
			r.ExternalID = &v
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteRecipient removes a recipient row. Deleting a row that is already gone
// returns ErrNotFound; callers that need idempotent semantics swallow it.
func (s *Store) DeleteRecipient(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM compliance_recipients WHERE id=?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

const reminderCols = `id,record_id,recipient_id,reminder_type,cycle_due_date,scheduled_date,token,status,sent_at,attempts,last_error,confirmed_at,confirmed_by,created_at,updated_at`

func (s *Store) InsertReminder(ctx context.Context, rem models.Reminder) (models.Reminder, error) {
	now := time.Now().UTC()
	rem.ID = uuid.NewString()
	rem.Status = models.ReminderPending
	rem.CreatedAt = now
	rem.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO compliance_reminders(id,record_id,recipient_id,reminder_type,cycle_due_date,scheduled_date,token,status,attempts,created_at,updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		rem.ID, rem.RecordID, rem.RecipientID, rem.Type, rem.CycleDueDate, rem.ScheduledDate, rem.Token, rem.Status, 0, rem.CreatedAt, rem.UpdatedAt,
	)
	if err != nil && isUniqueViolation(err) {
		return models.Reminder{}, ErrConflict
	}
	return rem, err
}

func (s *Store) ListReminders(ctx context.Context, recordID string) ([]models.Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reminderCols+` FROM compliance_reminders WHERE record_id=? ORDER BY scheduled_date ASC, created_at ASC`,
		recordID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Reminder{}
	for rows.Next() {
		rem, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rem)
	}
	return out, rows.Err()
}

// ActiveReminderKeys returns the (recipient, milestone) pairs that already
// have a pending or sent reminder for the given due-date cycle. The scheduler
// uses it to keep re-scheduling idempotent.
func (s *Store) ActiveReminderKeys(ctx context.Context, recordID string, cycle time.Time) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT recipient_id, reminder_type FROM compliance_reminders
		 WHERE record_id=? AND cycle_due_date=? AND status IN ('pending','sent')`,
		recordID, cycle,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]bool{}
	for rows.Next() {
		var recipientID, typ string
		if err := rows.Scan(&recipientID, &typ); err != nil {
			return nil, err
		}
		out[recipientID+"|"+typ] = true
	}
	return out, rows.Err()
}

// DispatchItem carries everything a dispatch pass needs to render and send
// one reminder email.
type DispatchItem struct {
	Reminder          models.Reminder
	RecordName        string
	RecordDescription string
	RecipientName     string
	RecipientEmail    string
}

// DueReminders returns pending reminders whose scheduled date has passed.
// The recipient join drops reminders orphaned by a recipient removal that
// slipped past the supersede pass.
func (s *Store) DueReminders(ctx context.Context, now time.Time, limit int) ([]DispatchItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id,r.record_id,r.recipient_id,r.reminder_type,r.cycle_due_date,r.scheduled_date,r.token,r.status,r.sent_at,r.attempts,r.last_error,r.confirmed_at,r.confirmed_by,r.created_at,r.updated_at,
		        rec.name, rec.description, rc.name, rc.email
		 FROM compliance_reminders r
		 JOIN compliance_records rec ON rec.id = r.record_id
		 JOIN compliance_recipients rc ON rc.id = r.recipient_id
		 WHERE r.status='pending' AND r.scheduled_date<=?
		 ORDER BY r.scheduled_date ASC LIMIT ?`,
		now, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []DispatchItem{}
	for rows.Next() {
		var item DispatchItem
		rem := &item.Reminder
		var sentAt, confirmedAt sql.NullTime
		var lastError, confirmedBy sql.NullString
		if err := rows.Scan(
			&rem.ID, &rem.RecordID, &rem.RecipientID, &rem.Type, &rem.CycleDueDate, &rem.ScheduledDate, &rem.Token, &rem.Status,
			&sentAt, &rem.Attempts, &lastError, &confirmedAt, &confirmedBy, &rem.CreatedAt, &rem.UpdatedAt,
			&item.RecordName, &item.RecordDescription, &item.RecipientName, &item.RecipientEmail,
		); err != nil {
			return nil, err
		}
		applyReminderNulls(rem, sentAt, confirmedAt, lastError, confirmedBy)
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s *Store) MarkReminderSent(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE compliance_reminders SET status='sent', sent_at=?, last_error=NULL, updated_at=? WHERE id=? AND status='pending'`,
		at, time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// MarkReminderSendFailure records a failed dispatch attempt. Once attempts
// reach maxAttempts the reminder goes to its terminal failed status.
func (s *Store) MarkReminderSendFailure(ctx context.Context, id, errMsg string, maxAttempts int) error {
	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx,
		`UPDATE compliance_reminders SET attempts=attempts+1, last_error=?, updated_at=? WHERE id=? AND status='pending'`,
		errMsg, now, id,
	); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE compliance_reminders SET status='failed', updated_at=? WHERE id=? AND status='pending' AND attempts>=?`,
		now, id, maxAttempts,
	)
	return err
}

// MarkReminderBounced fails a sent reminder after a delivery failure report.
func (s *Store) MarkReminderBounced(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE compliance_reminders SET status='failed', last_error='bounced', updated_at=? WHERE id=? AND status='sent'`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) RequeueReminder(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE compliance_reminders SET status='pending', attempts=0, last_error=NULL, sent_at=NULL, updated_at=? WHERE id=? AND status='failed'`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ConfirmationContext is what the public gateway returns when a token
// resolves: the reminder plus its owning record and addressed recipient.
type ConfirmationContext struct {
	Reminder  models.Reminder
	Record    models.ComplianceRecord
	Recipient models.Recipient
}

// GetConfirmationByToken resolves a live confirmation token. Only reminders
// in status sent resolve; unknown and already-consumed tokens are both
// ErrNotFound so the gateway cannot leak which one it was.
func (s *Store) GetConfirmationByToken(ctx context.Context, token string) (ConfirmationContext, error) {
	var out ConfirmationContext
	rem := &out.Reminder
	rec := &out.Record
	rc := &out.Recipient
	var sentAt, confirmedAt, lastConfirmedAt sql.NullTime
	var lastError, confirmedBy, lastConfirmationType, userID, externalID sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT r.id,r.record_id,r.recipient_id,r.reminder_type,r.cycle_due_date,r.scheduled_date,r.token,r.status,r.sent_at,r.attempts,r.last_error,r.confirmed_at,r.confirmed_by,r.created_at,r.updated_at,
		        rec.id,rec.name,rec.description,rec.due_date,rec.frequency,rec.last_confirmed_at,rec.last_confirmation_type,rec.created_by,rec.created_at,rec.updated_at,
		        rc.id,rc.record_id,rc.user_id,rc.external_id,rc.email,rc.name,rc.role,rc.created_at
		 FROM compliance_reminders r
		 JOIN compliance_records rec ON rec.id = r.record_id
		 JOIN compliance_recipients rc ON rc.id = r.recipient_id
		 WHERE r.token=? AND r.status='sent'`,
		token,
	).Scan(
		&rem.ID, &rem.RecordID, &rem.RecipientID, &rem.Type, &rem.CycleDueDate, &rem.ScheduledDate, &rem.Token, &rem.Status,
		&sentAt, &rem.Attempts, &lastError, &confirmedAt, &confirmedBy, &rem.CreatedAt, &rem.UpdatedAt,
		&rec.ID, &rec.Name, &rec.Description, &rec.DueDate, &rec.Frequency, &lastConfirmedAt, &lastConfirmationType, &rec.CreatedBy, &rec.CreatedAt, &rec.UpdatedAt,
		&rc.ID, &rc.RecordID, &userID, &externalID, &rc.Email, &rc.Name, &rc.Role, &rc.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return ConfirmationContext{}, ErrNotFound
	}
	if err != nil {
		return ConfirmationContext{}, err
	}
	applyReminderNulls(rem, sentAt, confirmedAt, lastError, confirmedBy)
	if lastConfirmedAt.Valid {
		t := lastConfirmedAt.Time
		rec.LastConfirmedAt = &t
	}
	if lastConfirmationType.Valid {
		rec.LastConfirmationType = lastConfirmationType.String
	}
	if userID.Valid {
		v := userID.String
		rc.UserID = &v
	}
	if externalID.Valid {
		v := externalID.String
		rc.ExternalID = &v
	}
	return out, nil
}

// ConsumeReminderToken confirms the reminder behind a token, at most once.
// The status guard in the UPDATE makes replays and unknown tokens
// indistinguishable: both come back ErrNotFound.
func (s *Store) ConsumeReminderToken(ctx context.Context, token, confirmedBy string, at time.Time) (models.Reminder, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE compliance_reminders SET status='confirmed', confirmed_at=?, confirmed_by=?, updated_at=? WHERE token=? AND status='sent'`,
		at, confirmedBy, time.Now().UTC(), token,
	)
	if err != nil {
		return models.Reminder{}, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return models.Reminder{}, err
	}
	if rows == 0 {
		return models.Reminder{}, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+reminderCols+` FROM compliance_reminders WHERE token=?`, token)
	return scanReminder(row)
}

// SupersedeCycleSiblings retires the still-live reminders of a confirmed
// cycle so the dispatcher stops nagging recipients about it.
func (s *Store) SupersedeCycleSiblings(ctx context.Context, recordID string, cycle time.Time, exceptReminderID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE compliance_reminders SET status='superseded', updated_at=? WHERE record_id=? AND cycle_due_date=? AND id<>? AND status IN ('pending','sent')`,
		time.Now().UTC(), recordID, cycle, exceptReminderID,
	)
	return err
}

// SupersedePendingForRecipient orphans the pending reminders of a removed
// recipient so they are never dispatched.
func (s *Store) SupersedePendingForRecipient(ctx context.Context, recipientID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE compliance_reminders SET status='superseded', updated_at=? WHERE recipient_id=? AND status='pending'`,
		time.Now().UTC(), recipientID,
	)
	return err
}

func (s *Store) InsertConfirmation(ctx context.Context, c models.Confirmation) (models.Confirmation, error) {
	c.ID = uuid.NewString()
	c.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO compliance_confirmations(id,record_id,reminder_id,confirmed_by,confirmed_email,confirmation_type,notes,created_at) VALUES(?,?,?,?,?,?,?,?)`,
		c.ID, c.RecordID, c.ReminderID, c.ConfirmedBy, c.ConfirmedEmail, c.ConfirmationType, c.Notes, c.CreatedAt,
	)
	if err != nil && isUniqueViolation(err) {
		return models.Confirmation{}, ErrConflict
	}
	return c, err
}

func (s *Store) ListConfirmations(ctx context.Context, recordID string) ([]models.Confirmation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id,record_id,reminder_id,confirmed_by,confirmed_email,confirmation_type,notes,created_at FROM compliance_confirmations WHERE record_id=? ORDER BY created_at DESC`,
		recordID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Confirmation{}
	for rows.Next() {
		var c models.Confirmation
		if err := rows.Scan(&c.ID, &c.RecordID, &c.ReminderID, &c.ConfirmedBy, &c.ConfirmedEmail, &c.ConfirmationType, &c.Notes, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (models.ComplianceRecord, error) {
	var rec models.ComplianceRecord
	var lastConfirmedAt sql.NullTime
	var lastConfirmationType sql.NullString
	err := row.Scan(&rec.ID, &rec.Name, &rec.Description, &rec.DueDate, &rec.Frequency, &lastConfirmedAt, &lastConfirmationType, &rec.CreatedBy, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return models.ComplianceRecord{}, ErrNotFound
	}
	if err != nil {
		return models.ComplianceRecord{}, err
	}
	if lastConfirmedAt.Valid {
		t := lastConfirmedAt.Time
		rec.LastConfirmedAt = &t
	}
	if lastConfirmationType.Valid {
		rec.LastConfirmationType = lastConfirmationType.String
	}
	return rec, nil
}

func scanReminder(row rowScanner) (models.Reminder, error) {
	var rem models.Reminder
	var sentAt, confirmedAt sql.NullTime
	var lastError, confirmedBy sql.NullString
	err := row.Scan(
		&rem.ID, &rem.RecordID, &rem.RecipientID, &rem.Type, &rem.CycleDueDate, &rem.ScheduledDate, &rem.Token, &rem.Status,
		&sentAt, &rem.Attempts, &lastError, &confirmedAt, &confirmedBy, &rem.CreatedAt, &rem.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return models.Reminder{}, ErrNotFound
	}
	if err != nil {
		return models.Reminder{}, err
	}
	applyReminderNulls(&rem, sentAt, confirmedAt, lastError, confirmedBy)
	return rem, nil
}

func applyReminderNulls(rem *models.Reminder, sentAt, confirmedAt sql.NullTime, lastError, confirmedBy sql.NullString) {
	if sentAt.Valid {
		t := sentAt.Time
		rem.SentAt = &t
	}
	if confirmedAt.Valid {
		t := confirmedAt.Time
		rem.ConfirmedAt = &t
	}
	if lastError.Valid {
		v := lastError.String
		rem.LastError = &v
	}
	if confirmedBy.Valid {
		v := confirmedBy.String
		rem.ConfirmedBy = &v
	}
}

func requireRow(res sql.Result) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
