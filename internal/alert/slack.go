package alert

import (
	"context"
	"fmt"

	slackapi "github.com/slack-go/slack"
)

// slackPoster abstracts the Slack API method we use, enabling test mocks.
type slackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// Slack posts alerts as message attachments.
type Slack struct {
	client  slackPoster
	channel string
}

// NewSlack creates a Slack notifier for a bot token and channel id.
func NewSlack(token, channel string) *Slack {
	return &Slack{client: slackapi.New(token), channel: channel}
}

// Notify implements Notifier.
func (s *Slack) Notify(ctx context.Context, a Alert) error {
	att := alertToAttachment(a)
	_, _, err := s.client.PostMessageContext(ctx, s.channel,
		slackapi.MsgOptionText(a.Title, false),
		slackapi.MsgOptionAttachments(att),
	)
	if err != nil {
		return fmt.Errorf("alert: slack post: %w", err)
	}
	return nil
}

func alertToAttachment(a Alert) slackapi.Attachment {
	att := slackapi.Attachment{
		Title:    a.Title,
		Text:     a.Body,
		Color:    severityColor(a.Severity),
		Fallback: a.Title,
	}
	for _, k := range sortedKeys(a.Fields) {
		att.Fields = append(att.Fields, slackapi.AttachmentField{
			Title: k,
			Value: a.Fields[k],
			Short: true,
		})
	}
	return att
}
