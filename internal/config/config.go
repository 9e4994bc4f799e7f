package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DiscordToken  string       `yaml:"discord_token"`
	MasterKey     string       `yaml:"master_key"`
	OwnerRoleIDs  []string     `yaml:"owner_role_ids"`
	StateFilePath string       `yaml:"state_file_path"`
	AuditDBPath   string       `yaml:"audit_db_path"`
	LogLevel      string       `yaml:"log_level"`
	Health        HealthConfig `yaml:"health"`
	Thresholds    Thresholds   `yaml:"thresholds"`
	Intervals     Intervals    `yaml:"intervals"`
	DeletedCap    int          `yaml:"deleted_message_cap"`

	// audit rows older than this are pruned; zero disables pruning
	AuditRetentionDays int `yaml:"audit_retention_days"`
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type Thresholds struct {
	BotJoins                    int `yaml:"bot_joins"`
	BotJoinWindowSeconds        int `yaml:"bot_join_window_seconds"`
	SimilarChannels             int `yaml:"similar_channels"`
	SimilarChannelWindowSeconds int `yaml:"similar_channel_window_seconds"`
}

type Intervals struct {
	SaveSeconds  int `yaml:"save_seconds"`
	SweepSeconds int `yaml:"sweep_seconds"`
}

func DefaultConfig() Config {
	return Config{
		MasterKey:     "KEBAB0101",
		StateFilePath: "/data/keywarden-state.json",
		AuditDBPath:   "/data/keywarden.db",
		LogLevel:      "info",
		Health:        HealthConfig{Enabled: false, Addr: ":8080"},
		Thresholds: Thresholds{
			BotJoins:                    2,
			BotJoinWindowSeconds:        60,
			SimilarChannels:             3,
			SimilarChannelWindowSeconds: 120,
		},
		Intervals:          Intervals{SaveSeconds: 30, SweepSeconds: 30},
		DeletedCap:         500,
		AuditRetentionDays: 30,
	}
}

func Load() (Config, error) {
	cfg := DefaultConfig()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	if cfg.DiscordToken == "" {
		return Config{}, errors.New("DISCORD_TOKEN is required")
	}
	cfg.MasterKey = strings.ToUpper(strings.TrimSpace(cfg.MasterKey))
	if cfg.DeletedCap <= 0 {
		cfg.DeletedCap = 500
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.DiscordToken = envString("DISCORD_TOKEN", cfg.DiscordToken)
	cfg.MasterKey = envString("MASTER_KEY", cfg.MasterKey)
	cfg.OwnerRoleIDs = envStringSlice("OWNER_ROLE_IDS", cfg.OwnerRoleIDs)
	cfg.StateFilePath = envString("STATE_FILE_PATH", cfg.StateFilePath)
	cfg.AuditDBPath = envString("AUDIT_DB_PATH", cfg.AuditDBPath)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.Health.Enabled = envBool("HEALTH_ENABLED", cfg.Health.Enabled)
	cfg.Health.Addr = envString("HEALTH_ADDR", cfg.Health.Addr)
	cfg.Thresholds.BotJoins = envInt("BOT_JOIN_THRESHOLD", cfg.Thresholds.BotJoins)
	cfg.Thresholds.BotJoinWindowSeconds = envInt("BOT_JOIN_WINDOW_SEC", cfg.Thresholds.BotJoinWindowSeconds)
	cfg.Thresholds.SimilarChannels = envInt("CHANNEL_SIMILAR_THRESHOLD", cfg.Thresholds.SimilarChannels)
	cfg.Thresholds.SimilarChannelWindowSeconds = envInt("CHANNEL_SIMILAR_WINDOW_SEC", cfg.Thresholds.SimilarChannelWindowSeconds)
	cfg.Intervals.SaveSeconds = envInt("SAVE_INTERVAL_SEC", cfg.Intervals.SaveSeconds)
	cfg.Intervals.SweepSeconds = envInt("SWEEP_INTERVAL_SEC", cfg.Intervals.SweepSeconds)
	cfg.DeletedCap = envInt("DELETED_MESSAGE_CAP", cfg.DeletedCap)
	cfg.AuditRetentionDays = envInt("AUDIT_RETENTION_DAYS", cfg.AuditRetentionDays)
}

func BuildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	lvl := strings.ToLower(level)
	switch lvl {
	case "debug", "info", "warn", "error":
		cfg.Level = zap.NewAtomicLevelAt(parseLevel(lvl))
	default:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	return cfg.Build()
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "1" || lower == "true" || lower == "yes"
	}
	return fallback
}

func envStringSlice(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	if len(result) == 0 {
		return fallback
	}
	return result
}
