package alert

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// discordSender abstracts the discordgo session method we use.
type discordSender interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts alerts as embeds.
type Discord struct {
	sess    discordSender
	channel string
}

// NewDiscord creates a Discord notifier for a bot token and channel id.
// No gateway connection is opened; embeds go over the REST API.
func NewDiscord(token, channel string) (*Discord, error) {
	sess, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("alert: discord session: %w", err)
	}
	return &Discord{sess: sess, channel: channel}, nil
}

// Notify implements Notifier.
func (d *Discord) Notify(ctx context.Context, a Alert) error {
	if _, err := d.sess.ChannelMessageSendEmbed(d.channel, alertToEmbed(a), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("alert: discord send: %w", err)
	}
	return nil
}

func alertToEmbed(a Alert) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       a.Title,
		Description: a.Body,
		Color:       parseHexColor(severityColor(a.Severity)),
	}
	for _, k := range sortedKeys(a.Fields) {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   k,
			Value:  a.Fields[k],
			Inline: true,
		})
	}
	return embed
}

// parseHexColor converts "#rrggbb" to the integer Discord expects.
func parseHexColor(hex string) int {
	n, err := strconv.ParseInt(strings.TrimPrefix(hex, "#"), 16, 32)
	if err != nil {
		return 0
	}
	return int(n)
}
