// Package email implements the email connector: an IMAP poll loop feeding
// inbound messages to a bound agent, with SMTP-sent replies. The adapter
// shape (polling loop, slog logger, seen-message tracking) follows the same
// pattern as other channel adapters in this codebase, generalized onto
// IMAP/SMTP.
package email

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/quotedprintable"
	"net/smtp"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"

	"github.com/ddalcu/agent-orcha/internal/integrations"
)

const rollingLogCap = 4000

// Config configures one email connector instance.
type Config struct {
	IMAPAddr     string // host:port
	IMAPUsername string
	IMAPPassword string
	Mailbox      string // defaults to INBOX

	SMTPAddr     string // host:port
	SMTPUsername string
	SMTPPassword string
	FromAddress  string

	PollInterval time.Duration
}

// inboundMessage is one fetched, not-yet-dispatched message.
type inboundMessage struct {
	uid       uint32
	messageID string
	from      string
	subject   string
	body      string
}

// Adapter is the email connector: an IMAP poll loop plus a single-flight
// dispatch Queue.
type Adapter struct {
	cfg     Config
	logger  *slog.Logger
	handler integrations.CommandHandler
	queue   *integrations.Queue

	mu        sync.RWMutex
	recentLog []string
	recentLen int
	senders   map[string]bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds an Adapter. handler is invoked once per inbound message; its
// returned text is sent back as an SMTP reply.
func New(cfg Config, handler integrations.CommandHandler, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	a := &Adapter{
		cfg:     cfg,
		logger:  logger.With("connector", "email"),
		handler: handler,
		senders: make(map[string]bool),
	}
	a.queue = integrations.NewQueue(a.dispatch, a.logger)
	return a
}

// Start begins the IMAP poll loop.
func (a *Adapter) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.wg.Add(1)
	go a.pollLoop(runCtx)
	return nil
}

// Stop ends the poll loop and drains the dispatch queue.
func (a *Adapter) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	a.queue.Shutdown()
	return nil
}

func (a *Adapter) pollLoop(ctx context.Context) {
	defer a.wg.Done()
	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if err := a.poll(ctx); err != nil {
			a.logger.Warn("imap poll failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// poll performs one IMAP cycle: search unseen UIDs, fetch envelope+body for
// the set, mark them seen in one batch, then enqueue each for dispatch.
func (a *Adapter) poll(ctx context.Context) error {
	c, err := client.DialTLS(a.cfg.IMAPAddr, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer c.Logout()

	if err := c.Login(a.cfg.IMAPUsername, a.cfg.IMAPPassword); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if _, err := c.Select(a.cfg.Mailbox, false); err != nil {
		return fmt.Errorf("select %q: %w", a.cfg.Mailbox, err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	uids, err := c.UidSearch(criteria)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}
	if len(uids) == 0 {
		return nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	section := &imap.BodySectionName{}
	items := []imap.FetchItem{imap.FetchEnvelope, section.FetchItem()}

	fetched := make(chan *imap.Message, len(uids))
	fetchDone := make(chan error, 1)
	go func() { fetchDone <- c.UidFetch(seqset, items, fetched) }()

	var messages []inboundMessage
	for msg := range fetched {
		im, err := parseMessage(msg, section)
		if err != nil {
			a.logger.Warn("parse message failed", "error", err)
			continue
		}
		messages = append(messages, im)
	}
	if err := <-fetchDone; err != nil {
		return fmt.Errorf("fetch: %w", err)
	}

	flagItem := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := c.UidStore(seqset, flagItem, []interface{}{imap.SeenFlag}, nil); err != nil {
		a.logger.Warn("mark seen failed", "error", err)
	}

	for _, msg := range messages {
		a.appendLog(fmt.Sprintf("%s: %s", msg.from, msg.subject))
		a.mu.Lock()
		a.senders[msg.from] = true
		a.mu.Unlock()
		meta := map[string]any{
			"from":       msg.from,
			"subject":    msg.subject,
			"message_id": msg.messageID,
		}
		a.queue.Enqueue(ctx, msg.body, msg.from, meta)
	}
	return nil
}

// parseMessage extracts the envelope fields and plain-text body (handling
// multipart boundaries and quoted-printable/base64 transfer encoding via
// go-message/mail) from a fetched IMAP message.
func parseMessage(msg *imap.Message, section *imap.BodySectionName) (inboundMessage, error) {
	im := inboundMessage{uid: msg.Uid}
	if msg.Envelope != nil {
		im.subject = msg.Envelope.Subject
		im.messageID = msg.Envelope.MessageId
		if len(msg.Envelope.From) > 0 {
			f := msg.Envelope.From[0]
			im.from = fmt.Sprintf("%s@%s", f.MailboxName, f.HostName)
		}
	}

	r := msg.GetBody(section)
	if r == nil {
		return im, fmt.Errorf("missing body section for uid %d", msg.Uid)
	}
	mr, err := mail.CreateReader(r)
	if err != nil {
		return im, fmt.Errorf("parse mime: %w", err)
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return im, fmt.Errorf("read part: %w", err)
		}
		if _, ok := part.Header.(*mail.InlineHeader); !ok {
			continue
		}
		body, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}
		im.body = decodeBody(body, part.Header)
		break
	}
	return im, nil
}

// decodeBody handles the content-transfer-encodings go-message/mail doesn't
// already strip at the part-reader level.
func decodeBody(body []byte, header interface{}) string {
	type encodingHeader interface {
		Get(string) string
	}
	if h, ok := header.(encodingHeader); ok {
		switch strings.ToLower(h.Get("Content-Transfer-Encoding")) {
		case "quoted-printable":
			decoded, err := io.ReadAll(quotedprintable.NewReader(bytes.NewReader(body)))
			if err == nil {
				return string(decoded)
			}
		}
	}
	return string(body)
}

// dispatch is the Queue's CommandHandler: run the bound agent and reply via
// SMTP using the original message's identifiers.
func (a *Adapter) dispatch(ctx context.Context, body, sender string, meta map[string]any) (string, error) {
	reply, err := a.handler(ctx, body, sender, meta)
	if err != nil {
		return "", err
	}
	subject, _ := meta["subject"].(string)
	messageID, _ := meta["message_id"].(string)
	if err := a.sendReply(sender, subject, messageID, reply); err != nil {
		return reply, err
	}
	return reply, nil
}

// sendReply sends reply to recipient as an SMTP reply to the given message,
// with Re: subject prefixing and In-Reply-To/References populated.
func (a *Adapter) sendReply(recipient, subject, inReplyTo, reply string) error {
	if !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", a.cfg.FromAddress)
	fmt.Fprintf(&buf, "To: %s\r\n", recipient)
	fmt.Fprintf(&buf, "Subject: %s\r\n", subject)
	if inReplyTo != "" {
		fmt.Fprintf(&buf, "In-Reply-To: %s\r\n", inReplyTo)
		fmt.Fprintf(&buf, "References: %s\r\n", inReplyTo)
	}
	buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	buf.WriteString(reply)

	auth := smtp.PlainAuth("", a.cfg.SMTPUsername, a.cfg.SMTPPassword, smtpHost(a.cfg.SMTPAddr))
	return smtp.SendMail(a.cfg.SMTPAddr, auth, a.cfg.FromAddress, []string{recipient}, buf.Bytes())
}

func smtpHost(addr string) string {
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		return addr[:i]
	}
	return addr
}

// Post satisfies builtin.Poster: send text to every sender seen so far, as a
// message with subject "Re: Update" and no In-Reply-To/References headers.
// Used by the integration_post built-in for proactive notifications outside
// the reply path.
func (a *Adapter) Post(ctx context.Context, text string) error {
	a.mu.RLock()
	recipients := make([]string, 0, len(a.senders))
	for s := range a.senders {
		recipients = append(recipients, s)
	}
	a.mu.RUnlock()

	var firstErr error
	for _, r := range recipients {
		if err := a.sendReply(r, "Update", "", text); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (a *Adapter) appendLog(line string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recentLog = append(a.recentLog, line)
	a.recentLen += len(line)
	for a.recentLen > rollingLogCap && len(a.recentLog) > 0 {
		a.recentLen -= len(a.recentLog[0])
		a.recentLog = a.recentLog[1:]
	}
}

// RecentMessages returns the rolling subject/sender log for context
// injection into trigger fires.
func (a *Adapter) RecentMessages() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return strings.Join(a.recentLog, "\n")
}

// ChannelMembers returns every sender address seen so far, standing in for
// a mailbox's "member list".
func (a *Adapter) ChannelMembers() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.senders))
	for s := range a.senders {
		out = append(out, s)
	}
	return out
}
