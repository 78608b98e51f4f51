package telegram

import (
	"context"
	"strconv"

	"github.com/cortexhub/cortex-dispatch/internal/channel"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type TelegramAdapter struct {
	bot      *tgbotapi.BotAPI
	token    string
	incoming chan *channel.Message
}

func NewTelegramAdapter(token string) *TelegramAdapter {
	return &TelegramAdapter{
		token:    token,
		incoming: make(chan *channel.Message, 100),
	}
}

func (t *TelegramAdapter) Name() string {
	return "telegram"
}

func (t *TelegramAdapter) IsEnabled() bool {
	return t.token != ""
}

func (t *TelegramAdapter) Start(ctx context.Context) error {
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return err
	}
	t.bot = bot
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := t.bot.GetUpdatesChan(u)
	go func() {
		for update := range updates {
			if update.Message == nil {
				continue
			}
			rootID := ""
			if update.Message.ReplyToMessage != nil {
				rootID = strconv.Itoa(update.Message.ReplyToMessage.MessageID)
			}
			msg := &channel.Message{
				ID:      strconv.Itoa(update.Message.MessageID),
				Channel: "telegram",
				UserID:  strconv.Itoa(int(update.Message.From.ID)),
				ChatID:  strconv.FormatInt(update.Message.Chat.ID, 10),
				RootID:  rootID,
				Content: update.Message.Text,
				Metadata: map[string]string{
					"username": update.Message.From.UserName,
				},
				Timestamp: int64(update.Message.Date),
			}
			t.incoming <- msg
		}
	}()
	return nil
}

func (t *TelegramAdapter) Stop() error {
	if t.bot != nil {
		t.bot.StopReceivingUpdates()
	}
	close(t.incoming)
	return nil
}

func (t *TelegramAdapter) Send(chatID string, resp *channel.Response) (string, error) {
	id, _ := strconv.ParseInt(chatID, 10, 64)
	reply := tgbotapi.NewMessage(id, resp.Content)
	sent, err := t.bot.Send(reply)
	if err != nil {
		return "", err
	}
	return strconv.Itoa(sent.MessageID), nil
}

// Update edits the streamed message in place. Telegram rejects edits
// with unchanged text, which is harmless here and ignored.
func (t *TelegramAdapter) Update(chatID, messageID string, resp *channel.Response) error {
	id, _ := strconv.ParseInt(chatID, 10, 64)
	msgID, err := strconv.Atoi(messageID)
	if err != nil {
		return err
	}
	edit := tgbotapi.NewEditMessageText(id, msgID, resp.Content)
	_, err = t.bot.Send(edit)
	return err
}

func (t *TelegramAdapter) Incoming() <-chan *channel.Message {
	return t.incoming
}
