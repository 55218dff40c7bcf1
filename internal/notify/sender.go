package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"lexremind/internal/config"
	"lexremind/internal/models"
)

const defaultDialTimeout = 10 * time.Second

// ReminderIDHeader carries the reminder ID in outbound mail so bounce
// reports can be matched back to the reminder that produced them.
const ReminderIDHeader = "X-Reminder-ID"

// ReminderEmail is a fully resolved reminder ready to be rendered and sent.
type ReminderEmail struct {
	ReminderID        string
	Type              models.ReminderType
	RecipientEmail    string
	RecipientName     string
	RecordName        string
	RecordDescription string
	DueDate           time.Time
	ConfirmURL        string
}

type Sender interface {
	SendReminder(ctx context.Context, msg ReminderEmail) error
}

func NewSender(cfg config.Config) Sender {
	switch cfg.ReminderSender {
	case "smtp":
		return SMTPSender{cfg: cfg}
	default:
		return LogSender{}
	}
}

type LogSender struct{}

func (s LogSender) SendReminder(ctx context.Context, msg ReminderEmail) error {
	_ = ctx
	log.Printf("reminder email to=%s reminder_id=%s type=%s record=%q confirm=%s",
		msg.RecipientEmail, msg.ReminderID, msg.Type, msg.RecordName, msg.ConfirmURL)
	return nil
}

type SMTPSender struct {
	cfg config.Config
}

func (s SMTPSender) SendReminder(ctx context.Context, msg ReminderEmail) error {
	raw, err := buildReminderMessage(s.cfg.ReminderFrom, msg)
	if err != nil {
		return err
	}
	return s.sendSMTP(ctx, s.cfg.ReminderFrom, []string{msg.RecipientEmail}, raw)
}

func reminderSubject(msg ReminderEmail) string {
	switch msg.Type {
	case models.ReminderTwoWeeks:
		return fmt.Sprintf("Upcoming deadline: %s due %s", msg.RecordName, msg.DueDate.Format("2 Jan 2006"))
	case models.ReminderOneWeek:
		return fmt.Sprintf("One week left: %s due %s", msg.RecordName, msg.DueDate.Format("2 Jan 2006"))
	case models.ReminderDueDate:
		return fmt.Sprintf("Due today: %s", msg.RecordName)
	case models.ReminderOverdue:
		return fmt.Sprintf("OVERDUE: %s was due %s", msg.RecordName, msg.DueDate.Format("2 Jan 2006"))
	default:
		return fmt.Sprintf("Compliance reminder: %s", msg.RecordName)
	}
}

func reminderBody(msg ReminderEmail) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\r\n\r\n", msg.RecipientName)
	switch msg.Type {
	case models.ReminderOverdue:
		fmt.Fprintf(&b, "The compliance obligation %q was due on %s and has not been confirmed.\r\n",
			msg.RecordName, msg.DueDate.Format("2 January 2006"))
	case models.ReminderDueDate:
		fmt.Fprintf(&b, "The compliance obligation %q is due today, %s.\r\n",
			msg.RecordName, msg.DueDate.Format("2 January 2006"))
	default:
		fmt.Fprintf(&b, "The compliance obligation %q is due on %s.\r\n",
			msg.RecordName, msg.DueDate.Format("2 January 2006"))
	}
	if msg.RecordDescription != "" {
		fmt.Fprintf(&b, "\r\n%s\r\n", msg.RecordDescription)
	}
	if msg.ConfirmURL != "" {
		fmt.Fprintf(&b, "\r\nOnce the obligation has been handled, confirm it here:\r\n%s\r\n", msg.ConfirmURL)
		b.WriteString("\r\nThe link works once and stops working after the confirmation is recorded.\r\n")
	}
	return b.String()
}

func buildReminderMessage(from string, msg ReminderEmail) ([]byte, error) {
	var buf bytes.Buffer
	mixed := multipart.NewWriter(&buf)
	boundary := mixed.Boundary()

	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", msg.RecipientEmail)
	fmt.Fprintf(&buf, "Subject: %s\r\n", reminderSubject(msg))
	fmt.Fprintf(&buf, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	fmt.Fprintf(&buf, "%s: %s\r\n", ReminderIDHeader, msg.ReminderID)
	fmt.Fprintf(&buf, "Auto-Submitted: auto-generated\r\n")
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n", boundary)
	fmt.Fprintf(&buf, "\r\n")

	inlineHeader := make(textproto.MIMEHeader)
	inlineHeader.Set("Content-Type", "text/plain; charset=utf-8")
	inlineHeader.Set("Content-Transfer-Encoding", "quoted-printable")
	p, err := mixed.CreatePart(inlineHeader)
	if err != nil {
		return nil, err
	}
	qp := quotedprintable.NewWriter(p)
	if _, err := qp.Write([]byte(reminderBody(msg))); err != nil {
		return nil, err
	}
	if err := qp.Close(); err != nil {
		return nil, err
	}

	if err := mixed.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s SMTPSender) sendSMTP(ctx context.Context, from string, rcpt []string, raw []byte) error {
	addr := net.JoinHostPort(s.cfg.SMTPHost, strconv.Itoa(s.cfg.SMTPPort))
	tlsConfig := &tls.Config{ServerName: s.cfg.SMTPHost, InsecureSkipVerify: s.cfg.SMTPInsecureSkipVerify}

	dialer := &net.Dialer{Timeout: defaultDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}

	if s.cfg.SMTPTLS {
		conn = tls.Client(conn, tlsConfig)
	}

	client, err := smtp.NewClient(conn, s.cfg.SMTPHost)
	if err != nil {
		return err
	}
	defer client.Close()

	if s.cfg.SMTPStartTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				return err
			}
		}
	}

	if s.cfg.SMTPUsername != "" {
		if ok, _ := client.Extension("AUTH"); ok {
			auth := smtp.PlainAuth("", s.cfg.SMTPUsername, s.cfg.SMTPPassword, s.cfg.SMTPHost)
			if err := client.Auth(auth); err != nil {
				return err
			}
		}
	}

	if err := client.Mail(from); err != nil {
		return err
	}
	for _, r := range rcpt {
		if err := client.Rcpt(strings.TrimSpace(r)); err != nil {
			return err
		}
	}

	wc, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := wc.Write(raw); err != nil {
		return err
	}
	if err := wc.Close(); err != nil {
		return err
	}
	return client.Quit()
}
