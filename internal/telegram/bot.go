package telegram

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"classroom-bot/internal/attendance"
	"classroom-bot/internal/commands"
	"classroom-bot/internal/gateway"
)

type Bot struct {
	api    *tgbotapi.BotAPI
	s      client
	selfID int64
	chatID int64

	matcher  *attendance.Matcher
	commands *commands.Handler
	onReady  func(ctx context.Context)
}

// New connects to the bot API. chatID is the group whose members count as
// the community.
func New(botToken string, chatID int64) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, err
	}
	return &Bot{api: api, s: api, selfID: api.Self.ID, chatID: chatID}, nil
}

// Bind attaches the handlers updates are routed to. It must be called before
// Run.
func (b *Bot) Bind(matcher *attendance.Matcher, cmds *commands.Handler, onReady func(ctx context.Context)) {
	b.matcher = matcher
	b.commands = cmds
	b.onReady = onReady
}

// Run polls for updates until ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	log.Printf("-----\nLogged in as @%s.\nWith the bot id=%d\n-----", b.api.Self.UserName, b.selfID)
	b.registerCommands()
	if b.onReady != nil {
		b.onReady(ctx)
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			log.Println("🔌 Telegram polling stopped")
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message != nil {
				b.handleIncomingMessage(ctx, update.Message)
			}
		}
	}
}

func (b *Bot) registerCommands() {
	var cmds []tgbotapi.BotCommand
	for _, spec := range commands.Specs {
		cmds = append(cmds, tgbotapi.BotCommand{Command: spec.Name, Description: spec.Description})
	}
	if _, err := b.s.Request(tgbotapi.NewSetMyCommands(cmds...)); err != nil {
		log.Printf("Error syncing commands: %v", err)
	}
}

func (b *Bot) handleIncomingMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}
	if b.matcher == nil {
		return
	}
	in := attendance.Message{
		AuthorID:  strconv.FormatInt(msg.From.ID, 10),
		ChannelID: strconv.FormatInt(msg.Chat.ID, 10),
		Text:      msg.Text,
		Direct:    msg.Chat.IsPrivate(),
		FromSelf:  msg.From.ID == b.selfID,
	}
	res := b.matcher.OnMessage(ctx, in)
	switch res.Reason {
	case attendance.Added, attendance.SkippedTooLong, attendance.SkippedNoMatch, attendance.SkippedSelf:
	default:
		log.Printf("Not adding %d (@%s) to %s: %s", msg.From.ID, msg.From.UserName, res.GroupID, res.Reason)
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	if b.commands == nil {
		return
	}
	name := msg.Command()
	log.Printf("Incoming command /%s from %d (@%s)", name, msg.From.ID, msg.From.UserName)

	member, err := b.ResolveMember(ctx, strconv.FormatInt(msg.From.ID, 10))
	if err != nil {
		m := fromUser(msg.From)
		member = &m
	}
	inv := commands.Invocation{
		Name:   name,
		Args:   b.commands.BindArgs(name, splitArgs(name, msg.CommandArguments())),
		Member: *member,
	}
	reply := b.commands.Handle(ctx, inv)
	out := tgbotapi.NewMessage(msg.Chat.ID, reply.Text)
	if reply.Private && !msg.Chat.IsPrivate() {
		out.ReplyToMessageID = msg.MessageID
	}
	if _, err := b.s.Send(out); err != nil {
		log.Printf("failed to send message: %v", err)
	}
}

// splitArgs splits command arguments on whitespace. Feedback answers may
// contain spaces, so they are separated by "|" after the survey name:
// /feedback week1 ok | more examples please
func splitArgs(name, raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if name != commands.Feedback {
		return strings.Fields(raw)
	}
	first, rest, _ := strings.Cut(raw, " ")
	args := []string{first}
	if strings.TrimSpace(rest) == "" {
		return args
	}
	for _, a := range strings.Split(rest, "|") {
		args = append(args, strings.TrimSpace(a))
	}
	return args
}

func (b *Bot) SendMessage(_ context.Context, channelID, text string) error {
	id, err := strconv.ParseInt(channelID, 10, 64)
	if err != nil {
		return &gateway.DeliveryError{ChannelID: channelID, Err: err}
	}
	if _, err := b.s.Send(tgbotapi.NewMessage(id, text)); err != nil {
		return &gateway.DeliveryError{ChannelID: channelID, Err: err}
	}
	return nil
}

// ResolveMember looks userID up in the configured group chat.
func (b *Bot) ResolveMember(_ context.Context, userID string) (*gateway.Member, error) {
	uid, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse user id %q: %w", userID, err)
	}
	cm, err := b.s.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: b.chatID, UserID: uid},
	})
	if err != nil {
		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusBadRequest {
			return nil, gateway.ErrMemberNotFound
		}
		return nil, fmt.Errorf("fetch member %d: %w", uid, err)
	}
	if cm.User == nil || cm.HasLeft() || cm.WasKicked() {
		return nil, gateway.ErrMemberNotFound
	}
	m := fromUser(cm.User)
	if id, ok := roleForStatus(cm.Status); ok {
		m.RoleIDs = []string{id}
	}
	return &m, nil
}

func (b *Bot) Guilds() []gateway.Guild {
	return []gateway.Guild{{ID: strconv.FormatInt(b.chatID, 10), Name: "telegram group"}}
}

func (b *Bot) Roles(_ context.Context, _ string) ([]gateway.Role, error) {
	out := make([]gateway.Role, 0, len(statusRoles))
	for _, r := range statusRoles {
		out = append(out, gateway.Role{ID: r.ID, Name: r.Status})
	}
	return out, nil
}

func fromUser(u *tgbotapi.User) gateway.Member {
	m := gateway.Member{
		UserID:      strconv.FormatInt(u.ID, 10),
		Username:    u.UserName,
		DisplayName: strings.TrimSpace(u.FirstName + " " + u.LastName),
	}
	if m.Username == "" {
		m.Username = m.UserID
	}
	return m
}
