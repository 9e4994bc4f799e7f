package bot

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"keywarden/internal/modules/audit"
	"keywarden/internal/notify"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

func (b *Bot) onInteractionCreate(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	b.guard("interaction_create", func() {
		switch interaction.Type {
		case discordgo.InteractionApplicationCommand:
			b.handleCommand(context.Background(), session, interaction)
		case discordgo.InteractionMessageComponent:
			b.handleComponent(context.Background(), session, interaction)
		}
	})
}

func (b *Bot) handleCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	data := interaction.ApplicationCommandData()

	switch data.Name {
	case "generate":
		b.handleGenerate(ctx, session, interaction)
		return
	}

	if interaction.GuildID == "" {
		b.respond(session, interaction, "❌ This command only works inside a server.", true)
		return
	}
	if !b.requireAuthorized(session, interaction) {
		return
	}

	switch data.Name {
	case "kick":
		b.handleKick(ctx, session, interaction, data.Options)
	case "ban":
		b.handleBan(ctx, session, interaction, data.Options)
	case "unban":
		b.handleUnban(ctx, session, interaction, data.Options)
	case "mute":
		b.handleMute(ctx, session, interaction, data.Options)
	case "unmute":
		b.handleUnmute(ctx, session, interaction, data.Options)
	case "nick":
		b.handleNick(ctx, session, interaction, data.Options)
	case "clear":
		b.handleClear(ctx, session, interaction, data.Options)
	case "deleted":
		b.handleDeleted(ctx, session, interaction, data.Options)
	case "report":
		b.handleReport(ctx, session, interaction, data.Options)
	default:
		b.respond(session, interaction, "❌ Unknown command.", true)
	}
}

func (b *Bot) handleComponent(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	data := interaction.MessageComponentData()
	alertID, ok := notify.ParseDisarmID(data.CustomID)
	if !ok {
		return
	}

	userID := interactionUserID(interaction)
	if userID == "" {
		return
	}
	if !b.keys.IsMaster(userID) {
		b.respond(session, interaction, "🚫 Master authorization is required to acknowledge an alert.", true)
		return
	}

	alert := b.lookupAlert(alertID)
	if alert == nil {
		b.respond(session, interaction, "⌛ This alert has expired.", true)
		return
	}

	masters := b.keys.MasterUsers()
	delivered := b.dispatch.Notify(masters, b.buildDisarmBroadcastEmbed(alert, userID), nil)
	b.audit.Log(ctx, audit.LevelInfo, alert.GuildID, userID, "alert_acknowledged",
		fmt.Sprintf("alert=%s kind=%s delivered=%d", alert.ID, alert.Kind, delivered))

	b.respond(session, interaction, fmt.Sprintf("🛡️ Acknowledged. %d master-authorized user(s) were briefed; follow up manually.", delivered), true)
}

func (b *Bot) requireAuthorized(session *discordgo.Session, interaction *discordgo.InteractionCreate) bool {
	userID := interactionUserID(interaction)
	if userID == "" || !b.keys.IsAuthorized(userID) {
		b.respond(session, interaction, "🚫 You are not authorized. Send a one-time key to me in a **private message**.", true)
		return false
	}
	return true
}

func (b *Bot) requirePermission(session *discordgo.Session, interaction *discordgo.InteractionCreate, perm int64, denial string) bool {
	if interaction.Member == nil || interaction.Member.Permissions&perm == 0 {
		b.respond(session, interaction, denial, true)
		return false
	}
	return true
}

func (b *Bot) handleGenerate(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	userID := interactionUserID(interaction)
	if userID == "" || !b.keys.IsMaster(userID) {
		b.respond(session, interaction, "🚫 Only master-authorized users can generate keys.", true)
		return
	}

	key, err := b.keys.Generate()
	if err != nil {
		b.respond(session, interaction, "❌ Key generation failed, try again.", true)
		return
	}
	b.audit.Log(ctx, audit.LevelInfo, interaction.GuildID, userID, "key_generated", "")
	b.respond(session, interaction, fmt.Sprintf("🪪 New one-time key: **%s**", key), true)
}

func (b *Bot) handleKick(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	if !b.requirePermission(session, interaction, discordgo.PermissionKickMembers, "❌ You lack permission to kick members.") {
		return
	}
	target, reason := targetAndReason(session, options)
	if target == nil {
		b.respond(session, interaction, "❌ A member is required.", true)
		return
	}

	if err := session.GuildMemberDeleteWithReason(interaction.GuildID, target.ID, reason); err != nil {
		b.logger.Warn("kick failed", zap.String("target", target.ID), zap.Error(err))
		b.audit.Log(ctx, audit.LevelWarn, interaction.GuildID, interactionUserID(interaction), "action_failed", "kick target="+target.ID)
		b.respond(session, interaction, "❌ Kick failed.", true)
		return
	}
	b.audit.Log(ctx, audit.LevelWarn, interaction.GuildID, interactionUserID(interaction), "moderation_kick", fmt.Sprintf("target=%s reason=%s", target.ID, reason))
	b.respond(session, interaction, fmt.Sprintf("👢 <@%s> was kicked. Reason: %s", target.ID, reason), false)
}

func (b *Bot) handleBan(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	if !b.requirePermission(session, interaction, discordgo.PermissionBanMembers, "❌ You lack permission to ban members.") {
		return
	}
	target, reason := targetAndReason(session, options)
	if target == nil {
		b.respond(session, interaction, "❌ A member is required.", true)
		return
	}

	if err := session.GuildBanCreateWithReason(interaction.GuildID, target.ID, reason, 0); err != nil {
		b.logger.Warn("ban failed", zap.String("target", target.ID), zap.Error(err))
		b.audit.Log(ctx, audit.LevelWarn, interaction.GuildID, interactionUserID(interaction), "action_failed", "ban target="+target.ID)
		b.respond(session, interaction, "❌ Ban failed.", true)
		return
	}
	b.audit.Log(ctx, audit.LevelCrit, interaction.GuildID, interactionUserID(interaction), "moderation_ban", fmt.Sprintf("target=%s reason=%s", target.ID, reason))
	b.respond(session, interaction, fmt.Sprintf("🔨 <@%s> was banned. Reason: %s", target.ID, reason), false)
}

func (b *Bot) handleUnban(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	if !b.requirePermission(session, interaction, discordgo.PermissionBanMembers, "❌ You lack permission to manage bans.") {
		return
	}
	userID := stringOption(options, "user_id")
	if userID == "" {
		b.respond(session, interaction, "❌ A user id is required.", true)
		return
	}

	if err := session.GuildBanDelete(interaction.GuildID, userID); err != nil {
		b.logger.Warn("unban failed", zap.String("target", userID), zap.Error(err))
		b.respond(session, interaction, "❌ Unban failed.", true)
		return
	}
	b.audit.Log(ctx, audit.LevelWarn, interaction.GuildID, interactionUserID(interaction), "moderation_unban", "target="+userID)
	b.respond(session, interaction, fmt.Sprintf("🔓 <@%s> was unbanned.", userID), false)
}

func (b *Bot) handleMute(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	if !b.requirePermission(session, interaction, discordgo.PermissionModerateMembers, "❌ You lack permission to time out members.") {
		return
	}
	target := userOption(session, options, "member")
	if target == nil {
		b.respond(session, interaction, "❌ A member is required.", true)
		return
	}
	minutes := intOption(options, "minutes", 10)
	if minutes <= 0 {
		minutes = 10
	}

	until := time.Now().Add(time.Duration(minutes) * time.Minute)
	if err := session.GuildMemberTimeout(interaction.GuildID, target.ID, &until); err != nil {
		b.logger.Warn("mute failed", zap.String("target", target.ID), zap.Error(err))
		b.respond(session, interaction, "❌ Mute failed.", true)
		return
	}
	b.audit.Log(ctx, audit.LevelWarn, interaction.GuildID, interactionUserID(interaction), "moderation_mute", fmt.Sprintf("target=%s minutes=%d", target.ID, minutes))
	b.respond(session, interaction, fmt.Sprintf("🔇 <@%s> was muted for %d minute(s).", target.ID, minutes), false)
}

func (b *Bot) handleUnmute(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	if !b.requirePermission(session, interaction, discordgo.PermissionModerateMembers, "❌ You lack permission to time out members.") {
		return
	}
	target := userOption(session, options, "member")
	if target == nil {
		b.respond(session, interaction, "❌ A member is required.", true)
		return
	}

	if err := session.GuildMemberTimeout(interaction.GuildID, target.ID, nil); err != nil {
		b.logger.Warn("unmute failed", zap.String("target", target.ID), zap.Error(err))
		b.respond(session, interaction, "❌ Unmute failed.", true)
		return
	}
	b.audit.Log(ctx, audit.LevelInfo, interaction.GuildID, interactionUserID(interaction), "moderation_unmute", "target="+target.ID)
	b.respond(session, interaction, fmt.Sprintf("🔈 <@%s> was unmuted.", target.ID), false)
}

func (b *Bot) handleNick(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	if !b.requirePermission(session, interaction, discordgo.PermissionManageNicknames, "❌ You lack permission to change nicknames.") {
		return
	}
	target := userOption(session, options, "member")
	nickname := stringOption(options, "nickname")
	if target == nil || nickname == "" {
		b.respond(session, interaction, "❌ A member and a nickname are required.", true)
		return
	}

	if err := session.GuildMemberNickname(interaction.GuildID, target.ID, nickname); err != nil {
		b.logger.Warn("nickname change failed", zap.String("target", target.ID), zap.Error(err))
		b.respond(session, interaction, "❌ Nickname change failed.", true)
		return
	}
	b.audit.Log(ctx, audit.LevelInfo, interaction.GuildID, interactionUserID(interaction), "moderation_nick", fmt.Sprintf("target=%s nickname=%s", target.ID, nickname))
	b.respond(session, interaction, fmt.Sprintf("✏️ Nickname of <@%s> changed to **%s**.", target.ID, nickname), false)
}

func (b *Bot) handleClear(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	if !b.requirePermission(session, interaction, discordgo.PermissionManageMessages, "❌ You lack permission to delete messages.") {
		return
	}
	amount := intOption(options, "amount", 10)
	if amount <= 0 {
		amount = 10
	}
	if amount > 100 {
		amount = 100
	}
	author := userOption(session, options, "member")

	messages, err := session.ChannelMessages(interaction.ChannelID, amount, "", "", "")
	if err != nil {
		b.logger.Warn("message fetch failed", zap.String("channel", interaction.ChannelID), zap.Error(err))
		b.respond(session, interaction, "❌ Purge failed.", true)
		return
	}

	ids := make([]string, 0, len(messages))
	for _, message := range messages {
		if author != nil && (message.Author == nil || message.Author.ID != author.ID) {
			continue
		}
		ids = append(ids, message.ID)
	}
	if len(ids) > 0 {
		if err := session.ChannelMessagesBulkDelete(interaction.ChannelID, ids); err != nil {
			b.logger.Warn("bulk delete failed", zap.String("channel", interaction.ChannelID), zap.Error(err))
			b.respond(session, interaction, "❌ Purge failed.", true)
			return
		}
	}

	detail := fmt.Sprintf("channel=%s count=%d", interaction.ChannelID, len(ids))
	if author != nil {
		detail += " author=" + author.ID
	}
	b.audit.Log(ctx, audit.LevelInfo, interaction.GuildID, interactionUserID(interaction), "moderation_purge", detail)
	b.respond(session, interaction, fmt.Sprintf("🧹 Deleted %d message(s).", len(ids)), true)
}

func (b *Bot) handleDeleted(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	count := intOption(options, "count", 10)
	if count <= 0 {
		count = 10
	}
	if count > 50 {
		count = 50
	}

	entries := b.state.DeletedMessages(count)
	if len(entries) == 0 {
		b.respond(session, interaction, "No deleted messages recorded.", true)
		return
	}

	var sb strings.Builder
	for _, entry := range entries {
		if sb.Len()+len(entry)+1 > 3900 {
			break
		}
		sb.WriteString(entry)
		sb.WriteByte('\n')
	}
	b.audit.Log(ctx, audit.LevelInfo, interaction.GuildID, interactionUserID(interaction), "deleted_viewed", fmt.Sprintf("count=%d", len(entries)))
	b.respond(session, interaction, sb.String(), true)
}

func (b *Bot) handleReport(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	period := stringOption(options, "period")
	start := time.Now().Add(-24 * time.Hour)
	if period == "week" {
		start = time.Now().Add(-7 * 24 * time.Hour)
	}

	report, err := b.analytics.Report(ctx, interaction.GuildID, start)
	if err != nil {
		b.logger.Warn("report failed", zap.Error(err))
		b.respond(session, interaction, "❌ Report failed.", true)
		return
	}

	embed := &discordgo.MessageEmbed{
		Title:     "Security report",
		Color:     colorAction,
		Timestamp: time.Now().Format(time.RFC3339),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Total", Value: fmt.Sprintf("%d", report.Total), Inline: true},
			{Name: "INFO", Value: fmt.Sprintf("%d", report.ByLevel[audit.LevelInfo]), Inline: true},
			{Name: "WARN", Value: fmt.Sprintf("%d", report.ByLevel[audit.LevelWarn]), Inline: true},
			{Name: "CRIT", Value: fmt.Sprintf("%d", report.ByLevel[audit.LevelCrit]), Inline: true},
		},
	}
	if summary := eventSummary(report.ByEvent); summary != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Top events", Value: summary, Inline: false})
	}
	b.respondEmbed(session, interaction, embed, true)
}

// eventSummary renders per-event counts, busiest first, capped at five rows.
func eventSummary(byEvent map[string]int) string {
	if len(byEvent) == 0 {
		return ""
	}
	type row struct {
		event string
		count int
	}
	rows := make([]row, 0, len(byEvent))
	for event, count := range byEvent {
		rows = append(rows, row{event, count})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].count != rows[j].count {
			return rows[i].count > rows[j].count
		}
		return rows[i].event < rows[j].event
	})
	if len(rows) > 5 {
		rows = rows[:5]
	}
	parts := make([]string, 0, len(rows))
	for _, r := range rows {
		parts = append(parts, fmt.Sprintf("%s: %d", r.event, r.count))
	}
	return strings.Join(parts, "\n")
}

func interactionUserID(interaction *discordgo.InteractionCreate) string {
	if interaction.Member != nil && interaction.Member.User != nil {
		return interaction.Member.User.ID
	}
	if interaction.User != nil {
		return interaction.User.ID
	}
	return ""
}

func targetAndReason(session *discordgo.Session, options []*discordgo.ApplicationCommandInteractionDataOption) (*discordgo.User, string) {
	target := userOption(session, options, "member")
	reason := stringOption(options, "reason")
	if reason == "" {
		reason = "No reason given"
	}
	return target, reason
}

func userOption(session *discordgo.Session, options []*discordgo.ApplicationCommandInteractionDataOption, name string) *discordgo.User {
	for _, opt := range options {
		if opt.Name == name && opt.Type == discordgo.ApplicationCommandOptionUser {
			return opt.UserValue(session)
		}
	}
	return nil
}

func stringOption(options []*discordgo.ApplicationCommandInteractionDataOption, name string) string {
	for _, opt := range options {
		if opt.Name == name && opt.Type == discordgo.ApplicationCommandOptionString {
			return opt.StringValue()
		}
	}
	return ""
}

func intOption(options []*discordgo.ApplicationCommandInteractionDataOption, name string, fallback int) int {
	for _, opt := range options {
		if opt.Name == name && opt.Type == discordgo.ApplicationCommandOptionInteger {
			return int(opt.IntValue())
		}
	}
	return fallback
}
