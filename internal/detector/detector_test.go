package detector

import (
	"testing"
	"time"
)

func TestBotJoinBurst(t *testing.T) {
	d := New(Config{BotJoinThreshold: 2, BotJoinWindow: 60 * time.Second})
	now := time.Now()

	if alert := d.RecordBotJoin("g1", "bot1", now); alert != nil {
		t.Fatalf("no alert expected below threshold")
	}
	alert := d.RecordBotJoin("g1", "bot2", now.Add(10*time.Second))
	if alert == nil {
		t.Fatalf("expected alert at threshold")
	}
	if alert.Kind != AlertBotJoinBurst || alert.GuildID != "g1" {
		t.Fatalf("unexpected alert: %+v", alert)
	}
	if len(alert.SubjectIDs) != 2 || alert.SubjectIDs[0] != "bot1" || alert.SubjectIDs[1] != "bot2" {
		t.Fatalf("expected both bot ids, got %v", alert.SubjectIDs)
	}

	// sustained burst keeps alerting, one alert per event
	if alert := d.RecordBotJoin("g1", "bot3", now.Add(20*time.Second)); alert == nil {
		t.Fatalf("expected repeated alert during sustained burst")
	}
}

func TestBotJoinBurstPerGuild(t *testing.T) {
	d := New(Config{BotJoinThreshold: 2, BotJoinWindow: 60 * time.Second})
	now := time.Now()

	d.RecordBotJoin("g1", "bot1", now)
	if alert := d.RecordBotJoin("g2", "bot2", now); alert != nil {
		t.Fatalf("joins in different guilds must not combine")
	}
}

func TestBotJoinWindowExpiry(t *testing.T) {
	d := New(Config{BotJoinThreshold: 2, BotJoinWindow: 60 * time.Second})
	now := time.Now()

	d.RecordBotJoin("g1", "bot1", now)
	if alert := d.RecordBotJoin("g1", "bot2", now.Add(90*time.Second)); alert != nil {
		t.Fatalf("expired join must not count toward threshold")
	}
}

func TestChannelCreateBurstCaseInsensitive(t *testing.T) {
	d := New(Config{ChannelThreshold: 3, ChannelWindow: 120 * time.Second})
	now := time.Now()

	if alert := d.RecordChannelCreate("g1", "c1", "raid", now); alert != nil {
		t.Fatalf("no alert expected below threshold")
	}
	if alert := d.RecordChannelCreate("g1", "c2", "RAID", now.Add(time.Second)); alert != nil {
		t.Fatalf("no alert expected below threshold")
	}
	alert := d.RecordChannelCreate("g1", "c3", "Raid", now.Add(2*time.Second))
	if alert == nil {
		t.Fatalf("expected alert at threshold")
	}
	if alert.Kind != AlertChannelCreateBurst {
		t.Fatalf("unexpected kind %q", alert.Kind)
	}
	if len(alert.SubjectIDs) != 3 {
		t.Fatalf("expected all three channel ids, got %v", alert.SubjectIDs)
	}
}

func TestChannelCreateDifferentNames(t *testing.T) {
	d := New(Config{ChannelThreshold: 2, ChannelWindow: 120 * time.Second})
	now := time.Now()

	d.RecordChannelCreate("g1", "c1", "general", now)
	if alert := d.RecordChannelCreate("g1", "c2", "raid", now); alert != nil {
		t.Fatalf("differently named channels must not combine")
	}
}

func TestSweepEmptiesWindows(t *testing.T) {
	d := New(Config{BotJoinThreshold: 2, BotJoinWindow: 60 * time.Second, ChannelThreshold: 3, ChannelWindow: 120 * time.Second})
	now := time.Now()

	d.RecordBotJoin("g1", "bot1", now)
	d.RecordChannelCreate("g1", "c1", "raid", now)
	d.Sweep(now.Add(5 * time.Minute))

	if alert := d.RecordBotJoin("g1", "bot2", now.Add(5*time.Minute)); alert != nil {
		t.Fatalf("swept events must not count")
	}
}
