package dispatch

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"

	"lexremind/internal/config"
	"lexremind/internal/notify"
	"lexremind/internal/store"
)

const (
	maxBounceBodyBytes = 1 << 20
	imapDialTimeout    = 10 * time.Second
)

var reminderIDRx = regexp.MustCompile(`(?mi)^` + notify.ReminderIDHeader + `:\s*([0-9a-f-]{36})\s*$`)

// BounceChecker polls a mailbox that receives delivery failure reports and
// fails the sent reminder each report points back to. Reports are matched by
// the reminder ID header echoed inside the returned message.
type BounceChecker struct {
	cfg   config.Config
	store *store.Store
}

func NewBounceChecker(cfg config.Config, st *store.Store) *BounceChecker {
	return &BounceChecker{cfg: cfg, store: st}
}

func (b *BounceChecker) Run(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.BouncePollInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := b.RunOnce(ctx)
			if err != nil {
				log.Printf("bounce check failed error=%v", err)
				continue
			}
			if n > 0 {
				log.Printf("bounce check marked_failed=%d", n)
			}
		}
	}
}

// RunOnce scans unseen messages in the bounce mailbox and returns how many
// reminders it marked failed. Every scanned message is flagged seen so it is
// not reprocessed, whether or not it matched a reminder.
func (b *BounceChecker) RunOnce(ctx context.Context) (int, error) {
	cli, err := b.connectIMAP(ctx)
	if err != nil {
		return 0, err
	}
	defer cli.Logout()

	if _, err := cli.Select(b.cfg.BounceMailbox, false); err != nil {
		return 0, err
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	uids, err := cli.UidSearch(criteria)
	if err != nil {
		return 0, err
	}
	if len(uids) == 0 {
		return 0, nil
	}

	seq := new(imap.SeqSet)
	seq.AddNum(uids...)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, section.FetchItem()}
	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- cli.UidFetch(seq, items, messages)
	}()

	marked := 0
	for msg := range messages {
		if msg == nil {
			continue
		}
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		raw, err := io.ReadAll(io.LimitReader(body, maxBounceBodyBytes))
		if err != nil {
			continue
		}
		id := ExtractReminderID(raw)
		if id == "" {
			continue
		}
		err = b.store.MarkReminderBounced(ctx, id)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return marked, err
		}
		if err == nil {
			marked++
			log.Printf("reminder bounced reminder_id=%s", id)
		}
	}
	if err := <-done; err != nil {
		return marked, err
	}

	flagItem := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := cli.UidStore(seq, flagItem, []interface{}{imap.SeenFlag}, nil); err != nil {
		return marked, err
	}
	return marked, nil
}

// ExtractReminderID digs the reminder ID header out of a bounce report.
// Reports usually embed the original message verbatim or as an attached
// message/rfc822 part, so the raw bytes are matched directly after a parse
// of the top-level text parts.
func ExtractReminderID(raw []byte) string {
	if m := reminderIDRx.FindSubmatch(raw); m != nil {
		return strings.ToLower(string(m[1]))
	}
	mr, err := mail.CreateReader(strings.NewReader(string(raw)))
	if err != nil {
		return ""
	}
	for {
		part, err := mr.NextPart()
		if err != nil {
			break
		}
		body, _ := io.ReadAll(io.LimitReader(part.Body, maxBounceBodyBytes))
		if m := reminderIDRx.FindSubmatch(body); m != nil {
			return strings.ToLower(string(m[1]))
		}
	}
	return ""
}

func (b *BounceChecker) connectIMAP(ctx context.Context) (*imapclient.Client, error) {
	_ = ctx
	dialer := &net.Dialer{Timeout: imapDialTimeout}
	addr := net.JoinHostPort(b.cfg.IMAPHost, strconv.Itoa(b.cfg.IMAPPort))
	tlsConfig := &tls.Config{ServerName: b.cfg.IMAPHost, InsecureSkipVerify: b.cfg.IMAPInsecureSkipVerify}

	var cli *imapclient.Client
	var err error
	if b.cfg.IMAPTLS {
		cli, err = imapclient.DialWithDialerTLS(dialer, addr, tlsConfig)
	} else {
		cli, err = imapclient.DialWithDialer(dialer, addr)
		if err == nil && b.cfg.IMAPStartTLS {
			err = cli.StartTLS(tlsConfig)
		}
	}
	if err != nil {
		return nil, err
	}
	if err := cli.Login(b.cfg.IMAPUsername, b.cfg.IMAPPassword); err != nil {
		_ = cli.Logout()
		return nil, err
	}
	return cli, nil
}
