package gateway

import (
	"context"
	"fmt"
	"log"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// telegramMessageLimit is the Bot API limit for one message.
const telegramMessageLimit = 4096

type TelegramGateway struct {
	Bot      *tgbotapi.BotAPI
	Commands *CommandHandler
}

func NewTelegramGateway(token string, commands *CommandHandler) (*TelegramGateway, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}

	log.Printf("Authorized on account %s", bot.Self.UserName)

	return &TelegramGateway{
		Bot:      bot,
		Commands: commands,
	}, nil
}

func (tg *TelegramGateway) Start() error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := tg.Bot.GetUpdatesChan(u)

	for update := range updates {
		if update.Message == nil || !update.Message.IsCommand() {
			continue
		}

		from := ""
		if update.Message.From != nil {
			from = update.Message.From.UserName
		}
		log.Printf("[telegram %s] %s", from, update.Message.Text)

		// /act can take the whole step budget; keep polling meanwhile.
		go func(chatID int64, text string) {
			reply := tg.Commands.Handle(context.Background(), text)
			msg := tgbotapi.NewMessage(chatID, truncate(reply, telegramMessageLimit))
			if _, err := tg.Bot.Send(msg); err != nil {
				log.Printf("Error replying on telegram: %v", err)
			}
		}(update.Message.Chat.ID, update.Message.Text)
	}
	return nil
}

func (tg *TelegramGateway) Send(chatID string, text string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil || id == 0 {
		return fmt.Errorf("invalid chat ID: %s", chatID)
	}

	msg := tgbotapi.NewMessage(id, truncate(text, telegramMessageLimit))
	_, err = tg.Bot.Send(msg)
	return err
}

func (tg *TelegramGateway) Stop() error {
	tg.Bot.StopReceivingUpdates()
	return nil
}

// truncate cuts s to at most limit runes.
func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-3]) + "..."
}
