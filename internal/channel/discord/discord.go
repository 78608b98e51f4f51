package discord

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"github.com/cortexhub/cortex-dispatch/internal/channel"
)

type DiscordAdapter struct {
	token    string
	session  *discordgo.Session
	incoming chan *channel.Message
}

func NewDiscordAdapter(token string) *DiscordAdapter {
	return &DiscordAdapter{
		token:    token,
		incoming: make(chan *channel.Message, 100),
	}
}

func (d *DiscordAdapter) Name() string {
	return "discord"
}

func (d *DiscordAdapter) IsEnabled() bool {
	return d.token != ""
}

func (d *DiscordAdapter) Start(ctx context.Context) error {
	session, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return err
	}
	d.session = session

	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		// Ignore bot messages
		if m.Author.Bot {
			return
		}

		// Only respond in DMs or when mentioned
		if m.GuildID != "" && !d.isMentioned(s.State.User.ID, m.Mentions) {
			return
		}

		rootID := ""
		if m.MessageReference != nil {
			rootID = m.MessageReference.MessageID
		}
		msg := &channel.Message{
			ID:      m.ID,
			Channel: "discord",
			UserID:  m.Author.ID,
			ChatID:  m.ChannelID,
			RootID:  rootID,
			Content: m.Content,
			Metadata: map[string]string{
				"guild_id":    m.GuildID,
				"author_name": m.Author.Username,
			},
			Timestamp: m.Timestamp.Unix(),
		}
		d.incoming <- msg
	})

	if err := session.Open(); err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		session.Close()
	}()

	return nil
}

func (d *DiscordAdapter) isMentioned(botID string, mentions []*discordgo.User) bool {
	for _, u := range mentions {
		if u.ID == botID {
			return true
		}
	}
	return false
}

func (d *DiscordAdapter) Stop() error {
	if d.session != nil {
		d.session.Close()
	}
	close(d.incoming)
	return nil
}

func (d *DiscordAdapter) Send(chatID string, resp *channel.Response) (string, error) {
	sent, err := d.session.ChannelMessageSend(chatID, resp.Content)
	if err != nil {
		return "", err
	}
	return sent.ID, nil
}

func (d *DiscordAdapter) Update(chatID, messageID string, resp *channel.Response) error {
	_, err := d.session.ChannelMessageEdit(chatID, messageID, resp.Content)
	return err
}

func (d *DiscordAdapter) Incoming() <-chan *channel.Message {
	return d.incoming
}
