package telegram

import tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

// client is the part of the bot API the adapter calls. *tgbotapi.BotAPI
// satisfies it; tests use a fake.
type client interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error)
}

// Telegram has no custom roles, so a member's chat status stands in for
// one. The IDs are what allowed_roles refers to.
var statusRoles = []struct {
	Status string
	ID     string
}{
	{"creator", "1"},
	{"administrator", "2"},
	{"member", "3"},
	{"restricted", "4"},
}

func roleForStatus(status string) (string, bool) {
	for _, r := range statusRoles {
		if r.Status == status {
			return r.ID, true
		}
	}
	return "", false
}
