package notify

import (
	"strings"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const disarmPrefix = "disarm:"

// Dispatcher resolves alert recipients and delivers private messages on a
// best-effort basis. A failed delivery never blocks the remaining recipients.
type Dispatcher struct {
	session    *discordgo.Session
	ownerRoles []string
	logger     *zap.Logger
}

func New(session *discordgo.Session, ownerRoleIDs []string, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{session: session, ownerRoles: ownerRoleIDs, logger: logger}
}

// ResolveRecipients returns every member holding one of the configured owner
// roles. When no member does, it falls back to the guild owner alone.
func (d *Dispatcher) ResolveRecipients(guildID string) []string {
	members := d.guildMembers(guildID)
	recipients := RecipientsFromMembers(members, d.ownerRoles)
	if len(recipients) > 0 {
		return recipients
	}

	guild, err := d.session.State.Guild(guildID)
	if err != nil || guild == nil {
		guild, err = d.session.Guild(guildID)
		if err != nil || guild == nil {
			d.logger.Warn("owner fallback failed", zap.String("guild_id", guildID), zap.Error(err))
			return nil
		}
	}
	if guild.OwnerID == "" {
		return nil
	}
	return []string{guild.OwnerID}
}

func (d *Dispatcher) guildMembers(guildID string) []*discordgo.Member {
	guild, err := d.session.State.Guild(guildID)
	if err == nil && guild != nil && len(guild.Members) > 0 {
		return guild.Members
	}
	members, err := d.session.GuildMembers(guildID, "", 1000)
	if err != nil {
		d.logger.Warn("member fetch failed", zap.String("guild_id", guildID), zap.Error(err))
		return nil
	}
	return members
}

// RecipientsFromMembers picks the distinct non-bot members holding any of the
// given roles, in member-list order.
func RecipientsFromMembers(members []*discordgo.Member, ownerRoles []string) []string {
	if len(ownerRoles) == 0 {
		return nil
	}
	roleSet := make(map[string]struct{}, len(ownerRoles))
	for _, id := range ownerRoles {
		roleSet[id] = struct{}{}
	}

	seen := make(map[string]struct{})
	var recipients []string
	for _, member := range members {
		if member == nil || member.User == nil || member.User.Bot {
			continue
		}
		for _, roleID := range member.Roles {
			if _, ok := roleSet[roleID]; !ok {
				continue
			}
			if _, dup := seen[member.User.ID]; !dup {
				seen[member.User.ID] = struct{}{}
				recipients = append(recipients, member.User.ID)
			}
			break
		}
	}
	return recipients
}

// Notify sends the embed to each recipient over DM and returns how many
// deliveries succeeded. Closed DMs and blocks are logged and skipped.
func (d *Dispatcher) Notify(recipients []string, embed *discordgo.MessageEmbed, components []discordgo.MessageComponent) int {
	delivered := 0
	for _, userID := range recipients {
		channel, err := d.session.UserChannelCreate(userID)
		if err != nil {
			d.logger.Debug("dm channel create failed", zap.String("user_id", userID), zap.Error(err))
			continue
		}
		send := &discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{embed}}
		if len(components) > 0 {
			send.Components = components
		}
		if _, err := d.session.ChannelMessageSendComplex(channel.ID, send); err != nil {
			d.logger.Debug("dm delivery failed", zap.String("user_id", userID), zap.Error(err))
			continue
		}
		delivered++
	}
	return delivered
}

// DisarmComponents builds the actionable acknowledgment row attached to an
// anomaly alert.
func DisarmComponents(alertID string) []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    "Disarm",
					Style:    discordgo.PrimaryButton,
					CustomID: disarmPrefix + alertID,
				},
			},
		},
	}
}

// ParseDisarmID extracts the alert id from a disarm button custom id.
func ParseDisarmID(customID string) (string, bool) {
	if !strings.HasPrefix(customID, disarmPrefix) {
		return "", false
	}
	return strings.TrimPrefix(customID, disarmPrefix), true
}
