package discord

import (
	"log"

	"github.com/bwmarrin/discordgo"

	"classroom-bot/internal/attendance"
	"classroom-bot/internal/commands"
	"classroom-bot/internal/gateway"
)

func (m *Manager) ready(s *discordgo.Session, r *discordgo.Ready) {
	log.Printf("-----\nLogged in as %s.\nWith the bot id=%q\n-----", r.User.Username, r.User.ID)

	if m.commands != nil && len(r.Guilds) > 0 {
		gid := r.Guilds[0].ID
		cmds := applicationCommands(m.commands.Surveys())
		log.Printf("Syncing %d commands to guild %s...", len(cmds), gid)
		if _, err := s.ApplicationCommandBulkOverwrite(r.User.ID, gid, cmds); err != nil {
			log.Printf("Error syncing commands: %v", err)
		}
	}
	if m.onReady != nil {
		m.onReady(m.ctx)
	}
}

func (m *Manager) messageCreate(s *discordgo.Session, mc *discordgo.MessageCreate) {
	if mc.Author == nil || m.matcher == nil {
		return
	}
	msg := attendance.Message{
		AuthorID:  mc.Author.ID,
		ChannelID: mc.ChannelID,
		Text:      mc.Content,
		Direct:    mc.GuildID == "",
		FromSelf:  s.State.User != nil && mc.Author.ID == s.State.User.ID,
	}
	// Only primary guild membership counts. Authors of other messages are
	// resolved by the matcher.
	if mc.Member != nil && mc.GuildID != "" && mc.GuildID == m.primaryGuildID() {
		mem := toMember(mc.Member, mc.Author)
		msg.Member = &mem
	}
	res := m.matcher.OnMessage(m.ctx, msg)
	switch res.Reason {
	case attendance.Added, attendance.SkippedTooLong, attendance.SkippedNoMatch, attendance.SkippedSelf:
	default:
		log.Printf("Not adding %s to %s: %s", mc.Author.Username, res.GroupID, res.Reason)
	}
}

func (m *Manager) interactionCreate(s *discordgo.Session, ic *discordgo.InteractionCreate) {
	if ic.Type != discordgo.InteractionApplicationCommand || m.commands == nil {
		return
	}
	data := ic.ApplicationCommandData()

	var member gateway.Member
	switch {
	case ic.Member != nil:
		member = toMember(ic.Member, nil)
	case ic.User != nil:
		if resolved, err := m.ResolveMember(m.ctx, ic.User.ID); err == nil {
			member = *resolved
		} else {
			member = gateway.Member{UserID: ic.User.ID, Username: ic.User.Username, DisplayName: ic.User.DisplayName()}
		}
	}

	inv := commands.Invocation{Name: data.Name, Args: invocationArgs(data, m.commands.Surveys()), Member: member}
	reply := m.commands.Handle(m.ctx, inv)

	resp := &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: clip(reply.Text, maxMessageLength)},
	}
	if reply.Private {
		resp.Data.Flags = discordgo.MessageFlagsEphemeral
	}
	if err := s.InteractionRespond(ic.Interaction, resp); err != nil {
		log.Printf("failed to respond to /%s: %v", data.Name, err)
	}
}
