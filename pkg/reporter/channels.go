package reporter

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	goslack "github.com/slack-go/slack"

	"github.com/probelab/delver/pkg/config"
)

// Channel delivers fired alerts to an external destination.
type Channel interface {
	Name() string
	Notify(ctx context.Context, alert Alert) error
}

// logChannel writes fired alerts to the structured log. It is always
// registered under the name "log".
type logChannel struct {
	logger *slog.Logger
}

// NewLogChannel creates the built-in log alert channel.
func NewLogChannel() Channel {
	return &logChannel{logger: slog.Default().With("component", "alerts")}
}

func (c *logChannel) Name() string { return "log" }

func (c *logChannel) Notify(_ context.Context, alert Alert) error {
	attrs := []any{
		"rule", alert.Rule,
		"count", alert.Count,
		"threshold", alert.Threshold,
		"window", alert.Window.String(),
	}
	if alert.Sample != nil {
		attrs = append(attrs, "last_error", alert.Sample.Message)
	}
	c.logger.Warn("Alert rule fired", attrs...)
	return nil
}

// SlackChannel posts fired alerts to a Slack channel.
type SlackChannel struct {
	api     *goslack.Client
	channel string
	logger  *slog.Logger
}

// NewSlackChannel builds the Slack alert channel from configuration. Returns
// nil when the channel is disabled or the token is absent, which callers
// treat as "do not register".
func NewSlackChannel(cfg *config.SlackConfig) *SlackChannel {
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	token := os.Getenv(cfg.TokenEnv)
	if token == "" {
		slog.Default().Warn("Slack alerts enabled but token env is empty", "token_env", cfg.TokenEnv)
		return nil
	}
	if cfg.Channel == "" {
		slog.Default().Warn("Slack alerts enabled but no channel configured")
		return nil
	}
	return &SlackChannel{
		api:     goslack.New(token),
		channel: cfg.Channel,
		logger:  slog.Default().With("component", "slack_alerts"),
	}
}

// NewSlackChannelWithAPIURL targets a custom API URL. Used by tests with a
// mock Slack server.
func NewSlackChannelWithAPIURL(token, channel, apiURL string) *SlackChannel {
	return &SlackChannel{
		api:     goslack.New(token, goslack.OptionAPIURL(apiURL)),
		channel: channel,
		logger:  slog.Default().With("component", "slack_alerts"),
	}
}

func (c *SlackChannel) Name() string { return "slack" }

// Notify posts the alert as a Block Kit message.
func (c *SlackChannel) Notify(ctx context.Context, alert Alert) error {
	header := fmt.Sprintf(":rotating_light: *Alert: %s*", alert.Rule)
	body := fmt.Sprintf("%d matching errors in the last %s (threshold %d).",
		alert.Count, alert.Window, alert.Threshold)
	if len(alert.Kinds) > 0 {
		body += "\nKinds: " + strings.Join(alert.Kinds, ", ")
	}
	if alert.Sample != nil {
		body += fmt.Sprintf("\nLast error: `%s` %s", alert.Sample.ErrorType, alert.Sample.Message)
	}

	blocks := []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, header, false, false),
			nil, nil,
		),
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, body, false, false),
			nil, nil,
		),
	}

	_, _, err := c.api.PostMessageContext(ctx, c.channel, goslack.MsgOptionBlocks(blocks...))
	if err != nil {
		return fmt.Errorf("chat.postMessage failed: %w", err)
	}
	return nil
}
