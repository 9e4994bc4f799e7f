package bot

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"keywarden/internal/detector"
	"keywarden/internal/keyring"
	"keywarden/internal/modules/audit"
	"keywarden/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

func testBot() *Bot {
	return &Bot{
		logger: zap.NewNop(),
		alerts: make(map[string]*detector.Alert),
	}
}

func TestAlertEmbedBotJoinBurst(t *testing.T) {
	b := testBot()
	alert := &detector.Alert{
		ID:         "a1",
		Kind:       detector.AlertBotJoinBurst,
		GuildID:    "g1",
		SubjectIDs: []string{"100", "200"},
		Count:      2,
		Window:     60 * time.Second,
		At:         time.Now(),
	}

	embed := b.buildAlertEmbed(alert)
	if !strings.Contains(embed.Description, "2 bot accounts") {
		t.Fatalf("unexpected description: %s", embed.Description)
	}
	var bots string
	for _, f := range embed.Fields {
		if f != nil && f.Name == "Bots" {
			bots = f.Value
		}
	}
	if !strings.Contains(bots, "<@100>") || !strings.Contains(bots, "<@200>") {
		t.Fatalf("bots field missing mentions: %s", bots)
	}
}

func TestAlertEmbedChannelBurst(t *testing.T) {
	b := testBot()
	alert := &detector.Alert{
		ID:          "a2",
		Kind:        detector.AlertChannelCreateBurst,
		GuildID:     "g1",
		SubjectIDs:  []string{"300", "301", "302"},
		ChannelName: "raid",
		Count:       3,
		Window:      120 * time.Second,
		At:          time.Now(),
	}

	embed := b.buildAlertEmbed(alert)
	if !strings.Contains(embed.Description, `"raid"`) {
		t.Fatalf("description should name the channel: %s", embed.Description)
	}
	var channels string
	for _, f := range embed.Fields {
		if f != nil && f.Name == "Channels" {
			channels = f.Value
		}
	}
	if !strings.Contains(channels, "<#301>") {
		t.Fatalf("channels field missing mention: %s", channels)
	}
}

func TestAlertMemoryExpiry(t *testing.T) {
	b := testBot()
	fresh := &detector.Alert{ID: "fresh", At: time.Now()}
	stale := &detector.Alert{ID: "stale", At: time.Now().Add(-2 * alertRetention)}
	b.rememberAlert(stale)
	b.rememberAlert(fresh)

	if got := b.lookupAlert("fresh"); got == nil {
		t.Fatal("fresh alert should be retrievable")
	}
	if got := b.lookupAlert("stale"); got != nil {
		t.Fatal("stale alert should have expired")
	}
	if got := b.lookupAlert("missing"); got != nil {
		t.Fatal("unknown id should resolve to nil")
	}
}

func TestInteractionUserID(t *testing.T) {
	guild := &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Member: &discordgo.Member{User: &discordgo.User{ID: "42"}},
	}}
	if got := interactionUserID(guild); got != "42" {
		t.Fatalf("expected member user id, got %q", got)
	}

	dm := &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		User: &discordgo.User{ID: "7"},
	}}
	if got := interactionUserID(dm); got != "7" {
		t.Fatalf("expected dm user id, got %q", got)
	}

	empty := &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{}}
	if got := interactionUserID(empty); got != "" {
		t.Fatalf("expected empty id, got %q", got)
	}
}

func TestOptionHelpers(t *testing.T) {
	options := []*discordgo.ApplicationCommandInteractionDataOption{
		{Name: "reason", Type: discordgo.ApplicationCommandOptionString, Value: "spam"},
		{Name: "minutes", Type: discordgo.ApplicationCommandOptionInteger, Value: float64(30)},
	}

	if got := stringOption(options, "reason"); got != "spam" {
		t.Fatalf("expected spam, got %q", got)
	}
	if got := stringOption(options, "absent"); got != "" {
		t.Fatalf("expected empty for absent option, got %q", got)
	}
	if got := intOption(options, "minutes", 10); got != 30 {
		t.Fatalf("expected 30, got %d", got)
	}
	if got := intOption(options, "absent", 10); got != 10 {
		t.Fatalf("expected fallback 10, got %d", got)
	}
}

func TestAuditEmbedCriticalAction(t *testing.T) {
	entry := storage.AuditLog{
		GuildID:   "g1",
		UserID:    "u1",
		Level:     audit.LevelCrit,
		Event:     "moderation_ban",
		Details:   "target=300 reason=raid",
		CreatedAt: time.Now(),
	}
	embed := buildAuditEmbed(entry)
	if !strings.Contains(embed.Description, "moderation_ban") {
		t.Fatalf("description should name the event: %s", embed.Description)
	}
	var actor string
	for _, f := range embed.Fields {
		if f != nil && f.Name == "Actor" {
			actor = f.Value
		}
	}
	if actor != "<@u1>" {
		t.Fatalf("unexpected actor field: %q", actor)
	}
}

func TestAuditEntryBroadcastSkipsNonCritical(t *testing.T) {
	b := testBot()
	state := storage.NewStateFile(filepath.Join(t.TempDir(), "state.json"), 10)
	b.keys = keyring.New(state, "KEBAB0101", zap.NewNop())

	// below-critical entries and critical entries without masters both return
	// before any delivery is attempted
	b.onAuditEntry(context.Background(), storage.AuditLog{Level: audit.LevelWarn, Event: "bot_join_burst"})
	b.onAuditEntry(context.Background(), storage.AuditLog{Level: audit.LevelCrit, Event: "moderation_ban"})
}

func TestEventSummary(t *testing.T) {
	if got := eventSummary(nil); got != "" {
		t.Fatalf("expected empty summary, got %q", got)
	}

	summary := eventSummary(map[string]int{
		"moderation_kick": 2,
		"moderation_ban":  5,
		"key_generated":   2,
	})
	lines := strings.Split(summary, "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %v", lines)
	}
	if lines[0] != "moderation_ban: 5" {
		t.Fatalf("busiest event must come first, got %q", lines[0])
	}
	// ties break alphabetically
	if lines[1] != "key_generated: 2" || lines[2] != "moderation_kick: 2" {
		t.Fatalf("unexpected tie ordering: %v", lines)
	}
}

func TestMentionLists(t *testing.T) {
	if got := mentionList(nil); got != "none" {
		t.Fatalf("expected none, got %q", got)
	}
	if got := channelList([]string{"1", "2"}); got != "<#1>\n<#2>" {
		t.Fatalf("unexpected channel list: %q", got)
	}
}
