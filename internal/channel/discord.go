package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"docsage/internal/domain"

	"github.com/bwmarrin/discordgo"
)

const discordMaxMsgLen = 2000

// Discord implements domain.Channel for Discord. Pagination is rendered as
// message-component buttons; clicks come back as component interactions and
// are republished as navigation events.
type Discord struct {
	token   string
	guildID string
	session *discordgo.Session
	bus     domain.MessageBus
	recent  *recentWindow
	logger  *slog.Logger
}

// DiscordConfig configures the Discord channel.
type DiscordConfig struct {
	Token   string
	GuildID string
	Logger  *slog.Logger
}

// NewDiscord creates a new Discord channel handler.
func NewDiscord(cfg DiscordConfig) *Discord {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Discord{
		token:   cfg.Token,
		guildID: cfg.GuildID,
		recent:  newRecentWindow(),
		logger:  cfg.Logger,
	}
}

func (d *Discord) Name() string { return "discord" }

// Start connects to Discord using a bot token and begins listening.
func (d *Discord) Start(ctx context.Context, bus domain.MessageBus) error {
	d.bus = bus

	session, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent

	d.session = session

	bus.OnOutbound("discord", func(msg domain.OutboundMessage) {
		if msg.Content == "" {
			return
		}
		d.deliver(msg)
	})

	session.AddHandler(d.onMessage)
	session.AddHandler(d.onInteraction)

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}

	d.logger.Info("discord bot connected", "user", session.State.User.Username)

	<-ctx.Done()
	d.logger.Info("discord bot disconnecting")
	return session.Close()
}

func (d *Discord) Stop() error { return nil }

func (d *Discord) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	// Ignore bot's own messages.
	if m.Author.ID == s.State.User.ID {
		return
	}

	// If guildID is set, filter messages.
	if d.guildID != "" && m.GuildID != d.guildID {
		return
	}

	mentioned := m.GuildID == "" // DMs always address the bot
	for _, u := range m.Mentions {
		if u.ID == s.State.User.ID {
			mentioned = true
			break
		}
	}

	var attachments []domain.Attachment
	for _, a := range m.Attachments {
		attachments = append(attachments, domain.Attachment{
			Name: a.Filename,
			Size: int64(a.Size),
			URL:  a.URL,
		})
	}

	d.logger.Info("discord message received",
		"author", m.Author.Username,
		"channel_id", m.ChannelID,
		"content_len", len(m.Content),
		"attachments", len(attachments),
	)

	recent := d.recent.snapshot(m.ChannelID)
	d.recent.add(m.ChannelID, m.Author.Username, m.Content)

	d.bus.Publish(domain.InboundMessage{
		MessageID:    m.ID,
		Channel:      "discord",
		ChatID:       m.ChannelID,
		SenderID:     m.Author.ID,
		SenderName:   m.Author.Username,
		Content:      m.Content,
		Attachments:  attachments,
		BotMentioned: mentioned,
		Recent:       recent,
		Timestamp:    time.Now(),
	})
}

func (d *Discord) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	switch i.Type {
	case discordgo.InteractionMessageComponent:
		d.onComponent(s, i)
	case discordgo.InteractionApplicationCommand:
		d.onSlashCommand(s, i)
	}
}

// onComponent turns a pagination button click into a navigation event. The
// interaction is acknowledged immediately; the page itself arrives later as
// an edit of the rendered message.
func (d *Discord) onComponent(s *discordgo.Session, i *discordgo.InteractionCreate) {
	sessionKey, dir, ok := parseNavCustomID(i.MessageComponentData().CustomID)
	if !ok {
		return
	}

	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	}); err != nil {
		d.logger.Warn("discord interaction ack failed", "err", err)
	}

	actorID := ""
	if i.Member != nil && i.Member.User != nil {
		actorID = i.Member.User.ID
	} else if i.User != nil {
		actorID = i.User.ID
	}

	messageID := ""
	if i.Message != nil {
		messageID = i.Message.ID
	}

	d.bus.PublishNavigation(domain.NavigationEvent{
		SessionKey: sessionKey,
		Direction:  dir,
		ActorID:    actorID,
		Channel:    "discord",
		ChatID:     i.ChannelID,
		MessageID:  messageID,
	})
}

func (d *Discord) onSlashCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	data := i.ApplicationCommandData()
	content := data.Name
	for _, opt := range data.Options {
		if opt.Type == discordgo.ApplicationCommandOptionString {
			content += " " + opt.StringValue()
		}
	}

	// Acknowledge interaction.
	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	})

	var senderID, senderName string
	if i.Member != nil && i.Member.User != nil {
		senderID, senderName = i.Member.User.ID, i.Member.User.Username
	} else if i.User != nil {
		senderID, senderName = i.User.ID, i.User.Username
	}

	d.bus.Publish(domain.InboundMessage{
		MessageID:    i.ID,
		Channel:      "discord",
		ChatID:       i.ChannelID,
		SenderID:     senderID,
		SenderName:   senderName,
		Content:      content,
		BotMentioned: true,
		IsCommand:    true,
		Timestamp:    time.Now(),
	})
}

func (d *Discord) deliver(msg domain.OutboundMessage) {
	content := msg.Content
	// Discord has no ephemeral channel messages outside interaction replies,
	// so actor-scoped notices address the actor explicitly.
	if msg.Ephemeral && msg.EphemeralActor != "" {
		content = fmt.Sprintf("<@%s> %s", msg.EphemeralActor, content)
	}
	components := navComponents(msg.Nav)

	if msg.EditMessageID != "" {
		edit := &discordgo.MessageEdit{
			ID:         msg.EditMessageID,
			Channel:    msg.ChatID,
			Content:    &content,
			Components: &components,
		}
		if _, err := d.session.ChannelMessageEditComplex(edit); err != nil {
			d.logger.Error("discord edit failed", "message", msg.EditMessageID, "err", err)
		}
		return
	}

	chunks := splitMessage(content, discordMaxMsgLen)
	for i, chunk := range chunks {
		send := &discordgo.MessageSend{Content: chunk}
		if i == len(chunks)-1 {
			send.Components = components
		}
		if _, err := d.session.ChannelMessageSendComplex(msg.ChatID, send); err != nil {
			d.logger.Error("discord send failed", "channel", msg.ChatID, "err", err)
		}
	}
}

func navComponents(nav *domain.NavControls) []discordgo.MessageComponent {
	if nav == nil {
		return []discordgo.MessageComponent{}
	}
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.Button{
				Label:    "Prev",
				Style:    discordgo.SecondaryButton,
				CustomID: navCustomID(nav.SessionKey, navPrev),
				Disabled: nav.Page == 0,
			},
			discordgo.Button{
				Label:    fmt.Sprintf("%d/%d", nav.Page+1, nav.TotalPages),
				Style:    discordgo.SecondaryButton,
				CustomID: navCustomID(nav.SessionKey, "label"),
				Disabled: true,
			},
			discordgo.Button{
				Label:    "Next",
				Style:    discordgo.SecondaryButton,
				CustomID: navCustomID(nav.SessionKey, navNext),
				Disabled: nav.Page >= nav.TotalPages-1,
			},
			discordgo.Button{
				Label:    "Close",
				Style:    discordgo.DangerButton,
				CustomID: navCustomID(nav.SessionKey, navClose),
			},
		}},
	}
}

// splitMessage splits a message into chunks that fit within the max length,
// trying to split on newlines when possible.
func splitMessage(msg string, maxLen int) []string {
	if len(msg) <= maxLen {
		return []string{msg}
	}

	var chunks []string
	for len(msg) > 0 {
		if len(msg) <= maxLen {
			chunks = append(chunks, msg)
			break
		}

		// Try to split on a newline.
		cut := maxLen
		if idx := strings.LastIndex(msg[:maxLen], "\n"); idx > maxLen/2 {
			cut = idx + 1
		}

		chunks = append(chunks, msg[:cut])
		msg = msg[cut:]
	}
	return chunks
}
