package discord

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/bwmarrin/discordgo"

	"classroom-bot/internal/attendance"
	"classroom-bot/internal/commands"
	"classroom-bot/internal/gateway"
)

// Manager owns the bot's single Discord session for the life of the
// process. Reconnecting refreshes that session in place; everything that
// holds the Manager keeps working.
type Manager struct {
	mu      sync.RWMutex
	session *discordgo.Session

	matcher  *attendance.Matcher
	commands *commands.Handler
	onReady  func(ctx context.Context)

	ctx context.Context
}

func New(token string) (*Manager, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsAll
	m := &Manager{session: s, ctx: context.Background()}
	s.AddHandler(m.ready)
	s.AddHandler(m.messageCreate)
	s.AddHandler(m.interactionCreate)
	return m, nil
}

// Bind attaches the handlers events are routed to. It must be called before
// Run.
func (m *Manager) Bind(matcher *attendance.Matcher, cmds *commands.Handler, onReady func(ctx context.Context)) {
	m.matcher = matcher
	m.commands = cmds
	m.onReady = onReady
}

// Run opens the gateway connection and blocks until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	m.ctx = ctx
	if err := m.current().Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	log.Println("🔌 Discord session opened")
	<-ctx.Done()
	if err := m.current().Close(); err != nil {
		log.Printf("failed to close discord session: %v", err)
	}
	log.Println("🔌 Discord session closed")
	return nil
}

func (m *Manager) current() *discordgo.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session
}

// Reconnect closes and reopens the gateway connection on the same session.
// It returns immediately; the reconnect runs in the background so a command
// reply can still be delivered.
func (m *Manager) Reconnect(_ context.Context) error {
	go func() {
		if err := m.reconnect(); err != nil {
			log.Printf("❌ Reconnect failed: %v", err)
		}
	}()
	return nil
}

func (m *Manager) reconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.session.Close(); err != nil {
		log.Printf("failed to close discord session: %v", err)
	}
	if err := m.session.Open(); err != nil {
		return fmt.Errorf("reopen discord session: %w", err)
	}
	log.Println("🔌 Discord session reconnected")
	return nil
}

func (m *Manager) SendMessage(_ context.Context, channelID, text string) error {
	if _, err := m.current().ChannelMessageSend(channelID, text); err != nil {
		return &gateway.DeliveryError{ChannelID: channelID, Err: err}
	}
	return nil
}

// ResolveMember looks userID up in the primary guild, the first guild the
// bot is in.
func (m *Manager) ResolveMember(_ context.Context, userID string) (*gateway.Member, error) {
	guilds := m.Guilds()
	if len(guilds) == 0 {
		return nil, errors.New("bot is not in any guild")
	}
	s := m.current()
	gid := guilds[0].ID
	dm, err := s.State.Member(gid, userID)
	if err != nil {
		dm, err = s.GuildMember(gid, userID)
	}
	if err != nil {
		var rerr *discordgo.RESTError
		if errors.As(err, &rerr) && rerr.Response != nil && rerr.Response.StatusCode == 404 {
			return nil, gateway.ErrMemberNotFound
		}
		return nil, fmt.Errorf("fetch member %s: %w", userID, err)
	}
	mem := toMember(dm, nil)
	return &mem, nil
}

func (m *Manager) Guilds() []gateway.Guild {
	s := m.current()
	if s.State == nil {
		return nil
	}
	s.State.RLock()
	defer s.State.RUnlock()
	out := make([]gateway.Guild, 0, len(s.State.Guilds))
	for _, g := range s.State.Guilds {
		out = append(out, gateway.Guild{ID: g.ID, Name: g.Name})
	}
	return out
}

func (m *Manager) primaryGuildID() string {
	if guilds := m.Guilds(); len(guilds) > 0 {
		return guilds[0].ID
	}
	return ""
}

func (m *Manager) Roles(_ context.Context, guildID string) ([]gateway.Role, error) {
	roles, err := m.current().GuildRoles(guildID)
	if err != nil {
		return nil, err
	}
	out := make([]gateway.Role, 0, len(roles))
	for _, r := range roles {
		out = append(out, gateway.Role{ID: r.ID, Name: r.Name})
	}
	return out, nil
}

// toMember converts a discord member. author is used when the member comes
// from a message event, where discord leaves Member.User empty.
func toMember(dm *discordgo.Member, author *discordgo.User) gateway.Member {
	u := author
	if u == nil {
		u = dm.User
	}
	mem := gateway.Member{RoleIDs: append([]string(nil), dm.Roles...)}
	if u != nil {
		mem.UserID = u.ID
		mem.Username = u.Username
		mem.DisplayName = u.DisplayName()
	}
	if dm.Nick != "" {
		mem.DisplayName = dm.Nick
	}
	return mem
}
