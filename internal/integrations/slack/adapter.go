// Package slack implements the channel connector on top of Slack's Socket
// Mode transport.
package slack

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	goslack "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/ddalcu/agent-orcha/internal/integrations"
	"github.com/ddalcu/agent-orcha/internal/integrations/chunk"
)

const (
	rollingLogCap  = 4000
	outgoingChunk  = 7500
	reconnectDelay = 3 * time.Second
)

// Config configures one channel connector instance.
type Config struct {
	BotToken      string // xoxb-...
	AppToken      string // xapp-..., for Socket Mode
	DisplayName   string // desired bot display name; "-<n>" suffix tried on collision
	ChannelName   string // target channel to find-or-create
	ChannelPrivate bool
}

// Adapter is the Slack channel connector: owns the Socket Mode connection,
// the bound channel's name→userId map, and a single-flight dispatch Queue.
type Adapter struct {
	cfg    Config
	client *goslack.Client
	socket *socketmode.Client
	logger *slog.Logger

	queue   *integrations.Queue
	handler integrations.CommandHandler

	mu         sync.RWMutex
	channelID  string
	botUserID  string
	members    map[string]string // userId -> display name
	byName     map[string]string // lowercased display name -> userId
	recentLog  []string          // rolling log, oldest first
	recentSize int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds an Adapter. handler is invoked once per inbound mention with
// the mention token stripped; its returned text is posted back to the
// channel.
func New(cfg Config, handler integrations.CommandHandler, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Adapter{
		cfg:     cfg,
		client:  goslack.New(cfg.BotToken, goslack.OptionAppLevelToken(cfg.AppToken)),
		logger:  logger.With("connector", "slack"),
		handler: handler,
		members: make(map[string]string),
		byName:  make(map[string]string),
	}
	a.queue = integrations.NewQueue(a.dispatch, a.logger)
	a.socket = socketmode.New(a.client, socketmode.OptionDebug(false))
	return a
}

// Start authenticates, negotiates a display name, finds-or-creates the
// target channel, joins it, loads the member list, and begins the Socket
// Mode event loop with auto-reconnect.
func (a *Adapter) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	auth, err := a.client.AuthTestContext(runCtx)
	if err != nil {
		return fmt.Errorf("slack: auth test: %w", err)
	}
	a.mu.Lock()
	a.botUserID = auth.UserID
	a.mu.Unlock()

	if a.cfg.DisplayName != "" {
		if err := a.negotiateDisplayName(runCtx, a.cfg.DisplayName); err != nil {
			a.logger.Warn("display name negotiation failed", "error", err)
		}
	}

	channelID, err := a.findOrCreateChannel(runCtx)
	if err != nil {
		return fmt.Errorf("slack: resolve channel: %w", err)
	}
	a.mu.Lock()
	a.channelID = channelID
	a.mu.Unlock()

	if _, _, _, err := a.client.JoinConversationContext(runCtx, channelID); err != nil {
		a.logger.Warn("join channel failed", "channel", channelID, "error", err)
	}
	a.refreshMembers(runCtx)

	a.wg.Add(2)
	go a.eventLoop(runCtx)
	go a.reconnectLoop(runCtx)

	return nil
}

// Stop tears down the Socket Mode connection and drains the dispatch queue.
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

// negotiateDisplayName sets the bot's real name to base, retrying with a
// "-<n>" suffix while the API reports a name collision.
func (a *Adapter) negotiateDisplayName(ctx context.Context, base string) error {
	name := base
	for attempt := 1; attempt <= 10; attempt++ {
		err := a.client.SetUserRealNameContext(ctx, name)
		if err == nil {
			return nil
		}
		if !strings.Contains(err.Error(), "name_taken") && !strings.Contains(err.Error(), "already") {
			return err
		}
		name = fmt.Sprintf("%s-%d", base, attempt)
	}
	return fmt.Errorf("slack: exhausted display name retries for %q", base)
}

// findOrCreateChannel looks up cfg.ChannelName among the bot's conversations
// and creates it (private if configured) when absent.
func (a *Adapter) findOrCreateChannel(ctx context.Context) (string, error) {
	channels, _, err := a.client.GetConversationsContext(ctx, &goslack.GetConversationsParameters{
		ExcludeArchived: true,
		Types:           []string{"public_channel", "private_channel"},
	})
	if err != nil {
		return "", fmt.Errorf("list conversations: %w", err)
	}
	for _, c := range channels {
		if c.Name == a.cfg.ChannelName {
			return c.ID, nil
		}
	}

	created, err := a.client.CreateConversationContext(ctx, goslack.CreateConversationParams{
		ChannelName: a.cfg.ChannelName,
		IsPrivate:   a.cfg.ChannelPrivate,
	})
	if err != nil {
		return "", fmt.Errorf("create conversation %q: %w", a.cfg.ChannelName, err)
	}
	return created.ID, nil
}

// refreshMembers loads the channel's member list and rebuilds the
// name→userId map used for @mention resolution.
func (a *Adapter) refreshMembers(ctx context.Context) {
	a.mu.RLock()
	channelID := a.channelID
	a.mu.RUnlock()
	if channelID == "" {
		return
	}

	userIDs, _, err := a.client.GetUsersInConversationContext(ctx, &goslack.GetUsersInConversationParameters{ChannelID: channelID})
	if err != nil {
		a.logger.Warn("list channel members failed", "error", err)
		return
	}

	members := make(map[string]string, len(userIDs))
	byName := make(map[string]string, len(userIDs))
	for _, id := range userIDs {
		info, err := a.client.GetUserInfoContext(ctx, id)
		if err != nil {
			continue
		}
		members[id] = info.RealName
		byName[strings.ToLower(info.Name)] = id
		byName[strings.ToLower(info.RealName)] = id
	}

	a.mu.Lock()
	a.members = members
	a.byName = byName
	a.mu.Unlock()
}

func (a *Adapter) eventLoop(ctx context.Context) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-a.socket.Events:
			if !ok {
				return
			}
			a.handleSocketEvent(ctx, evt)
		}
	}
}

// reconnectLoop runs the Socket Mode client, restarting it with a fixed
// backoff whenever Run returns (disconnects, transient errors) until ctx is
// cancelled.
func (a *Adapter) reconnectLoop(ctx context.Context) {
	defer a.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		if err := a.socket.Run(); err != nil {
			a.logger.Warn("socket mode disconnected", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (a *Adapter) handleSocketEvent(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		apiEvt, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		if evt.Request != nil {
			a.socket.Ack(*evt.Request)
		}
		if apiEvt.Type != slackevents.CallbackEvent {
			return
		}
		switch inner := apiEvt.InnerEvent.Data.(type) {
		case *slackevents.AppMentionEvent:
			a.handleMention(ctx, inner.Channel, inner.User, inner.Text)
		case *slackevents.MemberJoinedChannelEvent:
			a.refreshMembers(ctx)
		case *slackevents.MemberLeftChannelEvent:
			a.refreshMembers(ctx)
		}
	case socketmode.EventTypeSlashCommand, socketmode.EventTypeInteractive:
		if evt.Request != nil {
			a.socket.Ack(*evt.Request)
		}
	}
}

var mentionToken = regexp.MustCompile(`^\s*<@[^>]+>\s*`)

// handleMention filters out the bot's own messages, strips the leading
// mention token, and enqueues the command for serialized dispatch.
func (a *Adapter) handleMention(ctx context.Context, channelID, userID, text string) {
	a.mu.RLock()
	botID := a.botUserID
	a.mu.RUnlock()
	if userID == botID {
		return
	}
	command := mentionToken.ReplaceAllString(text, "")
	a.appendLog(fmt.Sprintf("%s: %s", userID, command))
	a.queue.Enqueue(ctx, command, userID, map[string]any{"channel": channelID})
}

// dispatch is the Queue's CommandHandler: run the bound agent and post its
// reply back to the channel in ≤7500-char chunks.
func (a *Adapter) dispatch(ctx context.Context, body, sender string, meta map[string]any) (string, error) {
	reply, err := a.handler(ctx, body, sender, meta)
	if err != nil {
		return "", err
	}
	if err := a.Post(ctx, reply); err != nil {
		return reply, err
	}
	return reply, nil
}

var outgoingMention = regexp.MustCompile(`@([\w.-]+)`)

// Post sends text to the bound channel, chunking it at outgoingChunk
// characters. Each @name token whose lowercased name is a known channel
// member is rewritten to that member's <@userId> mention first; unknown
// names are left as typed. Satisfies the builtin.Poster interface for
// integration_post.
func (a *Adapter) Post(ctx context.Context, text string) error {
	a.mu.RLock()
	channelID := a.channelID
	byName := a.byName
	a.mu.RUnlock()
	if channelID == "" {
		return fmt.Errorf("slack: channel not resolved")
	}
	text = outgoingMention.ReplaceAllStringFunc(text, func(tok string) string {
		if id, ok := byName[strings.ToLower(tok[1:])]; ok {
			return "<@" + id + ">"
		}
		return tok
	})
	for _, piece := range chunk.Split(text, outgoingChunk) {
		if _, _, err := a.client.PostMessageContext(ctx, channelID, goslack.MsgOptionText(piece, false)); err != nil {
			return fmt.Errorf("slack: post message: %w", err)
		}
	}
	return nil
}

func (a *Adapter) appendLog(line string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recentLog = append(a.recentLog, line)
	a.recentSize += len(line)
	for a.recentSize > rollingLogCap && len(a.recentLog) > 0 {
		a.recentSize -= len(a.recentLog[0])
		a.recentLog = a.recentLog[1:]
	}
}

// RecentMessages returns the rolling log, newline-joined, for context
// injection into trigger fires.
func (a *Adapter) RecentMessages() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return strings.Join(a.recentLog, "\n")
}

// ChannelMembers returns the bound channel's display names, for member-list
// injection into trigger fires.
func (a *Adapter) ChannelMembers() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.members))
	for _, name := range a.members {
		out = append(out, name)
	}
	return out
}
