package gateway

import (
	"context"
	"log"
	"strings"

	"github.com/bwmarrin/discordgo"
)

const discordMessageLimit = 2000

type DiscordGateway struct {
	Session  *discordgo.Session
	Commands *CommandHandler
}

func NewDiscordGateway(token string, commands *CommandHandler) (*DiscordGateway, error) {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	dg.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentMessageContent

	return &DiscordGateway{
		Session:  dg,
		Commands: commands,
	}, nil
}

// Start opens the websocket; messages arrive on discordgo's goroutines.
func (d *DiscordGateway) Start() error {
	d.Session.AddHandler(d.onMessage)
	if err := d.Session.Open(); err != nil {
		return err
	}
	log.Printf("Discord gateway connected")
	return nil
}

func (d *DiscordGateway) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID {
		return
	}
	if !strings.HasPrefix(strings.TrimSpace(m.Content), "/") {
		return
	}

	log.Printf("[discord %s] %s", m.Author.Username, m.Content)

	go func(channelID, text string) {
		reply := d.Commands.Handle(context.Background(), text)
		if _, err := s.ChannelMessageSend(channelID, truncate(reply, discordMessageLimit)); err != nil {
			log.Printf("Error replying on discord: %v", err)
		}
	}(m.ChannelID, m.Content)
}

func (d *DiscordGateway) Send(chatID string, text string) error {
	_, err := d.Session.ChannelMessageSend(chatID, truncate(text, discordMessageLimit))
	return err
}

func (d *DiscordGateway) Stop() error {
	return d.Session.Close()
}
