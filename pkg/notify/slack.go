// Package notify posts completed answers to Slack.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/slack-go/slack"
	slackutil "github.com/takara2314/slack-go-util"

	"github.com/malbeclabs/analyst/pkg/chat"
)

// maxSlackText is the limit Slack applies to the fallback text of a message.
const maxSlackText = 40000

// Poster is the part of the Slack client the notifier uses.
type Poster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

type SlackConfig struct {
	Logger  *slog.Logger
	Client  Poster
	Channel string
}

func (cfg *SlackConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Client == nil {
		return errors.New("slack client is required")
	}
	if cfg.Channel == "" {
		return errors.New("slack channel is required")
	}
	return nil
}

// SlackNotifier is a chat.Sink that posts agent answers to one channel.
type SlackNotifier struct {
	log *slog.Logger
	cfg *SlackConfig
}

var _ chat.Sink = (*SlackNotifier)(nil)

func NewSlackNotifier(cfg *SlackConfig) (*SlackNotifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &SlackNotifier{log: cfg.Logger, cfg: cfg}, nil
}

// NewSlackClient returns a Slack API client for a bot token.
func NewSlackClient(token string) *slack.Client {
	return slack.New(token)
}

func (n *SlackNotifier) Name() string {
	return "slack:" + n.cfg.Channel
}

// Send posts msg as markdown blocks, falling back to plain text when the markdown
// cannot be converted. Only agent messages are posted.
func (n *SlackNotifier) Send(ctx context.Context, msg chat.Message) error {
	if msg.Role != chat.RoleAgent || msg.Content == "" {
		return nil
	}
	text := msg.Content
	if len(text) > maxSlackText {
		text = text[:maxSlackText]
	}

	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	blocks, err := slackutil.ConvertMarkdownTextToBlocks(text)
	if err != nil {
		n.log.Debug("notify: failed to convert markdown to blocks, using plain text", "error", err)
	} else if len(blocks) > 0 {
		opts = append(opts, slack.MsgOptionBlocks(blocks...))
	}

	_, ts, err := n.cfg.Client.PostMessageContext(ctx, n.cfg.Channel, opts...)
	if err != nil {
		return fmt.Errorf("failed to post to slack: %w", err)
	}
	n.log.Debug("notify: posted to slack", "channel", n.cfg.Channel, "ts", ts, "message_id", msg.ID)
	return nil
}
