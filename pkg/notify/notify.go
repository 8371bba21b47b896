// Package notify delivers change summaries to external sinks. Delivery
// is best-effort: a failed notification is logged and dropped, never
// propagated into the compare pipeline.
package notify

import (
	"fmt"
	"strings"

	"github.com/slack-go/slack"

	"github.com/ckcm0210/watchdog/pkg/diffcells"
	"github.com/ckcm0210/watchdog/pkg/logger"
)

// maxDetailLines caps the per-cell lines included in one notification.
const maxDetailLines = 10

// Console logs change summaries through the structured logger.
type Console struct{}

// ChangesDetected implements diffcells.Notifier.
func (Console) ChangesDetected(path, author string, changes []diffcells.Change) {
	logger.InfoCF("notify", "Changes detected", map[string]any{
		"path":    path,
		"author":  author,
		"changes": len(changes),
	})
}

// Slack posts a compact change summary to a channel.
type Slack struct {
	client  *slack.Client
	channel string
}

// NewSlack returns a Slack notifier, or nil when unconfigured.
func NewSlack(token, channel string) *Slack {
	if token == "" || channel == "" {
		return nil
	}
	return &Slack{client: slack.New(token), channel: channel}
}

// ChangesDetected implements diffcells.Notifier.
func (s *Slack) ChangesDetected(path, author string, changes []diffcells.Change) {
	_, _, err := s.client.PostMessage(s.channel, slack.MsgOptionText(summary(path, author, changes), false))
	if err != nil {
		logger.WarnCF("notify", "Slack notification failed", map[string]any{
			"path":  path,
			"error": err.Error(),
		})
	}
}

func summary(path, author string, changes []diffcells.Change) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s*: %d cell change(s)", path, len(changes))
	if author != "" {
		fmt.Fprintf(&b, " by %s", author)
	}
	for i, c := range changes {
		if i == maxDetailLines {
			fmt.Fprintf(&b, "\n… and %d more", len(changes)-maxDetailLines)
			break
		}
		fmt.Fprintf(&b, "\n• %s!%s: %s → %s",
			c.Worksheet, c.Coordinate, cellText(c.OldFormula, c.OldValue), cellText(c.NewFormula, c.NewValue))
	}
	return b.String()
}

func cellText(formula, value string) string {
	switch {
	case formula != "":
		return formula
	case value != "":
		return value
	default:
		return "(empty)"
	}
}
