// Package slackconn bridges the helpdesk to Slack via Socket Mode.
package slackconn

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/opsdesk-io/opsdesk/internal/connector"
)

// Config holds Slack connector configuration.
type Config struct {
	BotToken string // xoxb-... Bot User OAuth Token
	AppToken string // xapp-... App-Level Token (for Socket Mode)
}

// Connector implements connector.Connector for Slack.
type Connector struct {
	api     *slack.Client
	socket  *socketmode.Client
	handler connector.InboundHandler
	logger  *slog.Logger
	cancel  context.CancelFunc
	botID   string
}

// New creates a Slack connector.
func New(cfg Config, handler connector.InboundHandler, logger *slog.Logger) (*Connector, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("slack: bot_token is required")
	}
	if cfg.AppToken == "" {
		return nil, fmt.Errorf("slack: app_token is required (Socket Mode)")
	}
	if logger == nil {
		logger = slog.Default()
	}

	api := slack.New(cfg.BotToken, slack.OptionAppLevelToken(cfg.AppToken))
	authResp, err := api.AuthTest()
	if err != nil {
		return nil, fmt.Errorf("slack: auth test: %w", err)
	}
	logger.Info("slack bot authorized", "user", authResp.User, "team", authResp.Team)

	return &Connector{
		api:     api,
		socket:  socketmode.New(api),
		handler: handler,
		logger:  logger,
		botID:   authResp.UserID,
	}, nil
}

func (c *Connector) Name() string { return "slack" }

// Start begins listening for events via Socket Mode. Blocks until
// context is cancelled.
func (c *Connector) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	go c.handleEvents(ctx)

	c.logger.Info("slack connector started (socket mode)")
	return c.socket.RunContext(ctx)
}

// Stop gracefully shuts down the connector.
func (c *Connector) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

func (c *Connector) handleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-c.socket.Events:
			if event.Type != socketmode.EventTypeEventsAPI {
				continue
			}
			apiEvent, ok := event.Data.(slackevents.EventsAPIEvent)
			if !ok {
				continue
			}
			c.socket.Ack(*event.Request)

			switch ev := apiEvent.InnerEvent.Data.(type) {
			case *slackevents.MessageEvent:
				c.handleMessage(ctx, ev)
			case *slackevents.AppMentionEvent:
				c.handleMention(ctx, ev)
			}
		}
	}
}

func (c *Connector) handleMessage(ctx context.Context, ev *slackevents.MessageEvent) {
	// Skip bot traffic (including our own replies) and edits/deletes.
	if ev.BotID != "" || ev.User == "" || ev.User == c.botID || ev.SubType != "" {
		return
	}
	if ev.Text == "" {
		return
	}
	c.dispatch(ctx, ev.User, threadChatID(ev.Channel, ev.ThreadTimeStamp), ev.Text, ev.ThreadTimeStamp)
}

func (c *Connector) handleMention(ctx context.Context, ev *slackevents.AppMentionEvent) {
	if ev.User == c.botID {
		return
	}
	text := StripMention(ev.Text, c.botID)
	if text == "" {
		return
	}
	c.dispatch(ctx, ev.User, threadChatID(ev.Channel, ev.ThreadTimeStamp), text, ev.ThreadTimeStamp)
}

func (c *Connector) dispatch(ctx context.Context, user, chatID, text, threadTS string) {
	reply, err := c.handler(ctx, connector.InboundMessage{
		Channel:  "slack",
		SenderID: user,
		ChatID:   chatID,
		Content:  text,
	})
	if err != nil {
		c.logger.Error("slack inbound handler error", "chat", chatID, "user", user, "error", err)
		reply = "Sorry, something went wrong handling that. Please try again."
	}
	if reply == "" {
		return
	}

	channel := chatID
	if i := strings.Index(chatID, ":"); i >= 0 {
		channel = chatID[:i]
	}
	opts := []slack.MsgOption{slack.MsgOptionText(reply, false)}
	if threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(threadTS))
	}
	if _, _, err := c.api.PostMessage(channel, opts...); err != nil {
		c.logger.Error("slack send failed", "channel", channel, "error", err)
	}
}

// threadChatID groups thread replies into one conversation, falling
// back to the channel for top-level messages.
func threadChatID(channel, threadTS string) string {
	if threadTS != "" {
		return channel + ":" + threadTS
	}
	return channel
}

// StripMention removes the <@BOTID> mention from message text.
func StripMention(text, botID string) string {
	mention := fmt.Sprintf("<@%s>", botID)
	return strings.TrimSpace(strings.Replace(text, mention, "", 1))
}
