package discord

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/bwmarrin/discordgo"

	"classroom-bot/internal/commands"
	"classroom-bot/internal/settings"
)

const (
	maxNameLength        = 32
	maxDescriptionLength = 100
	maxChoices           = 25
	maxMessageLength     = 2000
)

var invalidName = regexp.MustCompile(`[^a-z0-9_-]+`)

// sanitize turns a survey or question key into a valid discord option name.
func sanitize(s string) string {
	n := invalidName.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "_")
	n = strings.Trim(n, "_")
	if n == "" {
		n = "x"
	}
	if len(n) > maxNameLength {
		n = n[:maxNameLength]
	}
	return n
}

func describe(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		s = fallback
	}
	return clip(s, maxDescriptionLength)
}

// clip shortens s to at most n characters. Discord counts characters, not
// bytes.
func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// applicationCommands builds the slash commands for registration. Feedback
// gets one subcommand per survey with one option per question.
func applicationCommands(surveys []settings.Survey) []*discordgo.ApplicationCommand {
	out := make([]*discordgo.ApplicationCommand, 0, len(commands.Specs))
	for _, spec := range commands.Specs {
		cmd := &discordgo.ApplicationCommand{
			Name:        spec.Name,
			Description: describe(spec.Description, spec.Name),
		}
		if spec.Name == commands.Feedback {
			if len(surveys) == 0 {
				continue
			}
			for _, s := range surveys {
				cmd.Options = append(cmd.Options, surveyOption(s))
			}
			out = append(out, cmd)
			continue
		}
		for _, a := range spec.Args {
			cmd.Options = append(cmd.Options, &discordgo.ApplicationCommandOption{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        a,
				Description: describe("", a),
				Required:    true,
			})
		}
		out = append(out, cmd)
	}
	return out
}

func surveyOption(s settings.Survey) *discordgo.ApplicationCommandOption {
	sub := &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionSubCommand,
		Name:        sanitize(s.Name),
		Description: describe("", fmt.Sprintf("Answer the %s survey", s.Name)),
	}
	for _, q := range s.Questions {
		opt := &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        sanitize(q.Key),
			Description: describe(q.Prompt, q.Key),
			Required:    true,
		}
		if len(q.Options) <= maxChoices {
			for _, o := range q.Options {
				opt.Choices = append(opt.Choices, &discordgo.ApplicationCommandOptionChoice{Name: o, Value: o})
			}
		}
		sub.Options = append(sub.Options, opt)
	}
	return sub
}

// invocationArgs maps interaction options back onto command arguments. For
// feedback the subcommand names the survey and its options are translated
// back to question keys.
func invocationArgs(data discordgo.ApplicationCommandInteractionData, surveys []settings.Survey) map[string]string {
	args := make(map[string]string)
	if data.Name != commands.Feedback {
		for _, o := range data.Options {
			args[o.Name] = fmt.Sprint(o.Value)
		}
		return args
	}
	if len(data.Options) == 0 {
		return args
	}
	sub := data.Options[0]
	args["survey"] = sub.Name
	for _, s := range surveys {
		if sanitize(s.Name) != sub.Name {
			continue
		}
		args["survey"] = s.Name
		keys := make(map[string]string, len(s.Questions))
		for _, q := range s.Questions {
			keys[sanitize(q.Key)] = q.Key
		}
		for _, o := range sub.Options {
			if k, ok := keys[o.Name]; ok {
				args[k] = fmt.Sprint(o.Value)
			}
		}
		break
	}
	return args
}
