package detector

import (
	"context"
	"strings"
	"time"

	"keywarden/internal/window"

	"github.com/google/uuid"
)

// BotJoin is one bot-type member joining a guild.
type BotJoin struct {
	GuildID string
	BotID   string
}

// ChannelCreate is one channel appearing in a guild.
type ChannelCreate struct {
	GuildID   string
	ChannelID string
	Name      string
}

type AlertKind string

const (
	AlertBotJoinBurst       AlertKind = "bot_join_burst"
	AlertChannelCreateBurst AlertKind = "channel_create_burst"
)

// Alert describes one threshold crossing. SubjectIDs holds the distinct bot
// ids (or channel ids sharing the name, case-insensitive) currently inside
// the window.
type Alert struct {
	ID          string
	Kind        AlertKind
	GuildID     string
	SubjectIDs  []string
	ChannelName string
	Count       int
	Window      time.Duration
	At          time.Time
}

type Config struct {
	BotJoinThreshold int
	BotJoinWindow    time.Duration
	ChannelThreshold int
	ChannelWindow    time.Duration
}

// Detector keeps the two event windows and the threshold logic. It carries no
// alerted flag: every event at or past the threshold produces an alert, so
// sustained bursts escalate repeatedly on purpose. Events are process-local
// and reset on restart; the windows are too short for that to matter.
type Detector struct {
	cfg            Config
	botJoins       *window.Window[BotJoin]
	channelCreates *window.Window[ChannelCreate]
}

func New(cfg Config) *Detector {
	if cfg.BotJoinThreshold <= 0 {
		cfg.BotJoinThreshold = 2
	}
	if cfg.BotJoinWindow <= 0 {
		cfg.BotJoinWindow = 60 * time.Second
	}
	if cfg.ChannelThreshold <= 0 {
		cfg.ChannelThreshold = 3
	}
	if cfg.ChannelWindow <= 0 {
		cfg.ChannelWindow = 120 * time.Second
	}
	return &Detector{
		cfg:            cfg,
		botJoins:       window.New[BotJoin](cfg.BotJoinWindow),
		channelCreates: window.New[ChannelCreate](cfg.ChannelWindow),
	}
}

// RecordBotJoin tracks one bot join and returns an alert when the guild's
// join count inside the window reaches the threshold, nil otherwise.
func (d *Detector) RecordBotJoin(guildID, botID string, now time.Time) *Alert {
	d.botJoins.Record(BotJoin{GuildID: guildID, BotID: botID}, now)

	matched := d.botJoins.Matching(now, func(e BotJoin) bool {
		return e.GuildID == guildID
	})
	if len(matched) < d.cfg.BotJoinThreshold {
		return nil
	}

	seen := make(map[string]struct{}, len(matched))
	subjects := make([]string, 0, len(matched))
	for _, e := range matched {
		if _, ok := seen[e.BotID]; ok {
			continue
		}
		seen[e.BotID] = struct{}{}
		subjects = append(subjects, e.BotID)
	}

	return &Alert{
		ID:         uuid.NewString(),
		Kind:       AlertBotJoinBurst,
		GuildID:    guildID,
		SubjectIDs: subjects,
		Count:      len(matched),
		Window:     d.cfg.BotJoinWindow,
		At:         now,
	}
}

// RecordChannelCreate tracks one channel creation and returns an alert when
// enough channels sharing the same case-insensitive name were created in the
// guild inside the window.
func (d *Detector) RecordChannelCreate(guildID, channelID, name string, now time.Time) *Alert {
	d.channelCreates.Record(ChannelCreate{GuildID: guildID, ChannelID: channelID, Name: name}, now)

	lower := strings.ToLower(name)
	matched := d.channelCreates.Matching(now, func(e ChannelCreate) bool {
		return e.GuildID == guildID && strings.ToLower(e.Name) == lower
	})
	if len(matched) < d.cfg.ChannelThreshold {
		return nil
	}

	seen := make(map[string]struct{}, len(matched))
	subjects := make([]string, 0, len(matched))
	for _, e := range matched {
		if _, ok := seen[e.ChannelID]; ok {
			continue
		}
		seen[e.ChannelID] = struct{}{}
		subjects = append(subjects, e.ChannelID)
	}

	return &Alert{
		ID:          uuid.NewString(),
		Kind:        AlertChannelCreateBurst,
		GuildID:     guildID,
		SubjectIDs:  subjects,
		ChannelName: name,
		Count:       len(matched),
		Window:      d.cfg.ChannelWindow,
		At:          now,
	}
}

// RunSweeper prunes both windows on a fixed interval so memory does not grow
// between bursts. Blocks until ctx is cancelled.
func (d *Detector) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			d.botJoins.Prune(now)
			d.channelCreates.Prune(now)
		}
	}
}

// Sweep prunes both windows once.
func (d *Detector) Sweep(now time.Time) {
	d.botJoins.Prune(now)
	d.channelCreates.Prune(now)
}
