package dispatch

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"lexremind/internal/config"
	"lexremind/internal/notify"
	"lexremind/internal/store"
)

// Dispatcher drains due pending reminders on an interval, sends each one,
// and moves it to sent or records the failure.
type Dispatcher struct {
	cfg    config.Config
	store  *store.Store
	sender notify.Sender
}

func New(cfg config.Config, st *store.Store, sender notify.Sender) *Dispatcher {
	return &Dispatcher{cfg: cfg, store: st, sender: sender}
}

func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.DispatchInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sent, failed, err := d.RunOnce(ctx)
			if err != nil {
				log.Printf("reminder dispatch pass failed error=%v", err)
				continue
			}
			if sent > 0 || failed > 0 {
				log.Printf("reminder dispatch pass sent=%d failed=%d", sent, failed)
			}
		}
	}
}

// RunOnce processes one batch of due reminders and reports how many were
// sent and how many attempts failed. Send failures do not abort the batch.
func (d *Dispatcher) RunOnce(ctx context.Context) (sent, failed int, err error) {
	items, err := d.store.DueReminders(ctx, time.Now().UTC(), d.cfg.DispatchBatchSize)
	if err != nil {
		return 0, 0, err
	}
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return sent, failed, err
		}
		if err := d.sendOne(ctx, item); err != nil {
			failed++
			log.Printf("reminder send failed reminder_id=%s to=%s error=%v", item.Reminder.ID, item.RecipientEmail, err)
			if markErr := d.store.MarkReminderSendFailure(ctx, item.Reminder.ID, err.Error(), d.cfg.DispatchMaxAttempts); markErr != nil {
				log.Printf("reminder failure not recorded reminder_id=%s error=%v", item.Reminder.ID, markErr)
			}
			continue
		}
		if err := d.store.MarkReminderSent(ctx, item.Reminder.ID, time.Now().UTC()); err != nil {
			// A confirm or supersede won the race; the email is already out.
			log.Printf("reminder sent but not marked reminder_id=%s error=%v", item.Reminder.ID, err)
			continue
		}
		sent++
	}
	return sent, failed, nil
}

func (d *Dispatcher) sendOne(ctx context.Context, item store.DispatchItem) error {
	msg := notify.ReminderEmail{
		ReminderID:        item.Reminder.ID,
		Type:              item.Reminder.Type,
		RecipientEmail:    item.RecipientEmail,
		RecipientName:     item.RecipientName,
		RecordName:        item.RecordName,
		RecordDescription: item.RecordDescription,
		DueDate:           item.Reminder.CycleDueDate,
		ConfirmURL:        ConfirmURL(d.cfg.ConfirmBaseURL, item.Reminder.Token),
	}
	return d.sender.SendReminder(ctx, msg)
}

// ConfirmURL builds the public confirmation link for a reminder token.
func ConfirmURL(baseURL, token string) string {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return ""
	}
	return fmt.Sprintf("%s/#/confirm?token=%s", base, token)
}
