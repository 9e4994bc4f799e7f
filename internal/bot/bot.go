package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"keywarden/internal/analytics"
	"keywarden/internal/config"
	"keywarden/internal/detector"
	"keywarden/internal/keyring"
	"keywarden/internal/modules/audit"
	"keywarden/internal/notify"
	"keywarden/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	colorAlert  = 0xEF4444
	colorAction = 0xF59E0B

	// alerts are kept for the disarm button; anything older than this is
	// considered expired when the button is pressed
	alertRetention = time.Hour
)

type Bot struct {
	cfg       config.Config
	logger    *zap.Logger
	state     *storage.StateFile
	keys      *keyring.Authority
	detect    *detector.Detector
	audit     *audit.Logger
	analytics *analytics.Service
	session   *discordgo.Session
	dispatch  *notify.Dispatcher

	alertMu sync.Mutex
	alerts  map[string]*detector.Alert

	cancelTasks context.CancelFunc
}

func New(cfg config.Config, logger *zap.Logger, state *storage.StateFile, keys *keyring.Authority, detect *detector.Detector, auditLogger *audit.Logger, analyticsSvc *analytics.Service) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, err
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	b := &Bot{
		cfg:       cfg,
		logger:    logger,
		state:     state,
		keys:      keys,
		detect:    detect,
		audit:     auditLogger,
		analytics: analyticsSvc,
		session:   session,
		alerts:    make(map[string]*detector.Alert),
	}
	b.dispatch = notify.New(session, cfg.OwnerRoleIDs, logger)
	auditLogger.SetNotifier(b.onAuditEntry)

	return b, nil
}

// onAuditEntry mirrors critical audit entries to every master-authorized user
// over DM. Lower levels stay in the store and the process log.
func (b *Bot) onAuditEntry(ctx context.Context, entry storage.AuditLog) {
	if entry.Level != audit.LevelCrit {
		return
	}
	recipients := b.keys.MasterUsers()
	if len(recipients) == 0 {
		return
	}
	delivered := b.dispatch.Notify(recipients, buildAuditEmbed(entry), nil)
	b.logger.Info("critical audit entry broadcast",
		zap.String("event", entry.Event), zap.Int("delivered", delivered))
}

func buildAuditEmbed(entry storage.AuditLog) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "🚨 Critical action",
		Description: fmt.Sprintf("**%s** on server %s", entry.Event, entry.GuildID),
		Color:       colorAlert,
		Timestamp:   entry.CreatedAt.Format(time.RFC3339),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Actor", Value: "<@" + entry.UserID + ">", Inline: true},
			{Name: "Details", Value: entry.Details, Inline: false},
		},
	}
}

func (b *Bot) Start() error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onMessageCreate)
	b.session.AddHandler(b.onGuildMemberAdd)
	b.session.AddHandler(b.onChannelCreate)
	b.session.AddHandler(b.onMessageDelete)
	b.session.AddHandler(b.onInteractionCreate)

	if err := b.session.Open(); err != nil {
		return err
	}

	if err := b.registerCommands(); err != nil {
		return err
	}

	// the persistence flush and the window sweep are deliberately separate
	// tasks so either can be tuned without touching the other
	ctx, cancel := context.WithCancel(context.Background())
	b.cancelTasks = cancel
	go b.state.RunFlusher(ctx, time.Duration(b.cfg.Intervals.SaveSeconds)*time.Second, b.logger)
	go b.detect.RunSweeper(ctx, time.Duration(b.cfg.Intervals.SweepSeconds)*time.Second)
	go b.audit.RunRetention(ctx, time.Hour, b.cfg.AuditRetentionDays)

	return nil
}

func (b *Bot) Close(ctx context.Context) {
	_ = ctx
	if b.cancelTasks != nil {
		b.cancelTasks()
	}
	if b.session != nil {
		_ = b.session.Close()
	}
	if err := b.state.Save(); err != nil {
		b.logger.Error("final state save failed", zap.Error(err))
	}
}

// guard is the supervisory boundary around every inbound event: a panicking
// handler is logged and swallowed so the dispatch loop and the periodic tasks
// keep running.
func (b *Bot) guard(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("handler panic", zap.String("handler", name), zap.Any("panic", r))
		}
	}()
	fn()
}

func (b *Bot) onReady(session *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("discord ready", zap.String("user", session.State.User.Username))
}

func (b *Bot) onMessageCreate(session *discordgo.Session, msg *discordgo.MessageCreate) {
	b.guard("message_create", func() {
		if msg.Author == nil || msg.Author.Bot {
			return
		}
		if msg.GuildID != "" {
			return
		}
		b.handleDirectMessage(session, msg)
	})
}

func (b *Bot) handleDirectMessage(session *discordgo.Session, msg *discordgo.MessageCreate) {
	ctx := context.Background()
	result := b.keys.Redeem(msg.Author.ID, msg.Content)

	var reply string
	switch result {
	case keyring.MasterAccepted:
		reply = "✅ Master key accepted. `/generate` is now available to you."
		b.audit.Log(ctx, audit.LevelInfo, "", msg.Author.ID, "key_redeemed", "kind=master")
	case keyring.OneTimeAccepted:
		reply = "🔓 Authorization successful. All moderation commands are available."
		b.audit.Log(ctx, audit.LevelInfo, "", msg.Author.ID, "key_redeemed", "kind=one_time")
	default:
		reply = "❌ Invalid or already used key."
	}

	if _, err := session.ChannelMessageSend(msg.ChannelID, reply); err != nil {
		b.logger.Debug("redeem reply failed", zap.String("user_id", msg.Author.ID), zap.Error(err))
	}
}

func (b *Bot) onGuildMemberAdd(session *discordgo.Session, event *discordgo.GuildMemberAdd) {
	b.guard("guild_member_add", func() {
		if event.Member == nil || event.Member.User == nil || !event.Member.User.Bot {
			return
		}
		guildID := event.Member.GuildID
		if guildID == "" {
			return
		}
		alert := b.detect.RecordBotJoin(guildID, event.Member.User.ID, time.Now())
		if alert != nil {
			b.handleAlert(context.Background(), alert)
		}
	})
}

func (b *Bot) onChannelCreate(session *discordgo.Session, event *discordgo.ChannelCreate) {
	b.guard("channel_create", func() {
		if event.Channel == nil || event.Channel.GuildID == "" {
			return
		}
		alert := b.detect.RecordChannelCreate(event.Channel.GuildID, event.Channel.ID, event.Channel.Name, time.Now())
		if alert != nil {
			b.handleAlert(context.Background(), alert)
		}
	})
}

func (b *Bot) onMessageDelete(session *discordgo.Session, event *discordgo.MessageDelete) {
	b.guard("message_delete", func() {
		if event.GuildID == "" {
			return
		}
		authorID := ""
		authorName := ""
		content := ""
		if event.BeforeDelete != nil {
			content = event.BeforeDelete.Content
			if event.BeforeDelete.Author != nil {
				authorID = event.BeforeDelete.Author.ID
				authorName = event.BeforeDelete.Author.Username
			}
		}
		line := fmt.Sprintf("[%s] guild=%s author=%s(%s): %s",
			time.Now().Format(time.RFC3339), event.GuildID, authorName, authorID, content)
		b.state.AppendDeletedMessage(line)
		b.saveState()
	})
}

// handleAlert delivers an anomaly alert to the guild's owners with a disarm
// button and records it for the acknowledgment path.
func (b *Bot) handleAlert(ctx context.Context, alert *detector.Alert) {
	b.rememberAlert(alert)

	recipients := b.dispatch.ResolveRecipients(alert.GuildID)
	delivered := b.dispatch.Notify(recipients, b.buildAlertEmbed(alert), notify.DisarmComponents(alert.ID))

	detail := fmt.Sprintf("kind=%s count=%d window=%s subjects=%s delivered=%d",
		alert.Kind, alert.Count, alert.Window, strings.Join(alert.SubjectIDs, ","), delivered)
	b.audit.Log(ctx, audit.LevelWarn, alert.GuildID, "", string(alert.Kind), detail)
}

func (b *Bot) rememberAlert(alert *detector.Alert) {
	b.alertMu.Lock()
	defer b.alertMu.Unlock()
	cutoff := time.Now().Add(-alertRetention)
	for id, old := range b.alerts {
		if old.At.Before(cutoff) {
			delete(b.alerts, id)
		}
	}
	b.alerts[alert.ID] = alert
}

func (b *Bot) lookupAlert(id string) *detector.Alert {
	b.alertMu.Lock()
	defer b.alertMu.Unlock()
	alert := b.alerts[id]
	if alert != nil && time.Since(alert.At) > alertRetention {
		delete(b.alerts, id)
		return nil
	}
	return alert
}

func (b *Bot) buildAlertEmbed(alert *detector.Alert) *discordgo.MessageEmbed {
	var description string
	var subjectField *discordgo.MessageEmbedField
	switch alert.Kind {
	case detector.AlertBotJoinBurst:
		description = fmt.Sprintf("%d bot accounts joined the server within %s. The server may be under attack.", alert.Count, alert.Window)
		subjectField = &discordgo.MessageEmbedField{Name: "Bots", Value: mentionList(alert.SubjectIDs), Inline: false}
	case detector.AlertChannelCreateBurst:
		description = fmt.Sprintf("%d channels named %q were created within %s. The server may be under attack.", alert.Count, alert.ChannelName, alert.Window)
		subjectField = &discordgo.MessageEmbedField{Name: "Channels", Value: channelList(alert.SubjectIDs), Inline: false}
	}

	return &discordgo.MessageEmbed{
		Title:       "⚠️ Suspicious activity",
		Description: description,
		Color:       colorAlert,
		Timestamp:   alert.At.Format(time.RFC3339),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Server", Value: alert.GuildID, Inline: true},
			{Name: "Count", Value: fmt.Sprintf("%d", alert.Count), Inline: true},
			subjectField,
		},
		Footer: &discordgo.MessageEmbedFooter{Text: "Press Disarm to brief all master-authorized users."},
	}
}

func (b *Bot) buildDisarmBroadcastEmbed(alert *detector.Alert, ackBy string) *discordgo.MessageEmbed {
	subjects := "Suspicious ids: " + strings.Join(alert.SubjectIDs, ", ")
	return &discordgo.MessageEmbed{
		Title:       "🛡️ Anomaly acknowledged",
		Description: fmt.Sprintf("<@%s> acknowledged a %s alert on server %s. Review the listed ids and take manual action if needed; nothing has been done automatically.", ackBy, alert.Kind, alert.GuildID),
		Color:       colorAction,
		Timestamp:   time.Now().Format(time.RFC3339),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Details", Value: subjects, Inline: false},
		},
	}
}

func mentionList(ids []string) string {
	if len(ids) == 0 {
		return "none"
	}
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, "<@"+id+">")
	}
	return strings.Join(parts, "\n")
}

func channelList(ids []string) string {
	if len(ids) == 0 {
		return "none"
	}
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, "<#"+id+">")
	}
	return strings.Join(parts, "\n")
}

func (b *Bot) saveState() {
	if err := b.state.Save(); err != nil {
		b.logger.Error("state save failed", zap.Error(err))
	}
}

func (b *Bot) respond(session *discordgo.Session, interaction *discordgo.InteractionCreate, content string, ephemeral bool) {
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	err := session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   flags,
		},
	})
	if err != nil {
		b.logger.Debug("interaction respond failed", zap.Error(err))
	}
}

func (b *Bot) respondEmbed(session *discordgo.Session, interaction *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, ephemeral bool) {
	if embed == nil {
		b.respond(session, interaction, "No response available.", ephemeral)
		return
	}
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	err := session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
			Flags:  flags,
		},
	})
	if err != nil {
		b.logger.Debug("interaction respond failed", zap.Error(err))
	}
}
