package config

import (
	"fmt"
	"io"
	"strings"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/spf13/viper"
	"gorm.io/gorm/logger"

	"task-tracker/internal/task-tracker/recurrence"
	gormdb "task-tracker/pkg/db"
)

// Config keeps runtime settings for the tracker and the notifier.
type Config struct {
	ServerAddr      string
	DBType          string
	DBDSN           string
	UploadRoot      string
	MaxUploadBytes  int
	RecurrenceCron  string
	CatchUpMode     recurrence.CatchUpMode
	KafkaBrokers    []string
	TaskEventsTopic string
	NotifierGroupID string
	Notifier        string
	GRPCHealthAddr  string
	LogLevel        string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_ADDR", ":8080")
	v.SetDefault("DB_TYPE", gormdb.TypeSQLite)
	v.SetDefault("DB_DSN", "")
	v.SetDefault("UPLOAD_ROOT", "uploads")
	v.SetDefault("MAX_UPLOAD_BYTES", 10*1024*1024)
	// Shortly after midnight, so a day's instances exist before anyone looks.
	v.SetDefault("RECURRENCE_CRON", "5 0 * * *")
	v.SetDefault("RECURRENCE_CATCH_UP_MODE", string(recurrence.CatchUpNone))
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("TASK_EVENTS_TOPIC", "task_generated")
	v.SetDefault("NOTIFIER_GROUP_ID", "task-notifier-group")
	v.SetDefault("NOTIFIER", "log")
	v.SetDefault("GRPC_HEALTH_ADDR", "")
	v.SetDefault("LOG_LEVEL", "info")
}

// Load reads defaults, then an optional CONFIG_FILE, then environment variables.
func Load() (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if file := strings.TrimSpace(v.GetString("CONFIG_FILE")); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %q: %w", file, err)
		}
	}

	mode, err := recurrence.ParseCatchUpMode(strings.TrimSpace(v.GetString("RECURRENCE_CATCH_UP_MODE")))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		ServerAddr:      strings.TrimSpace(v.GetString("SERVER_ADDR")),
		DBType:          strings.ToLower(strings.TrimSpace(v.GetString("DB_TYPE"))),
		DBDSN:           strings.TrimSpace(v.GetString("DB_DSN")),
		UploadRoot:      strings.TrimSpace(v.GetString("UPLOAD_ROOT")),
		MaxUploadBytes:  v.GetInt("MAX_UPLOAD_BYTES"),
		RecurrenceCron:  strings.TrimSpace(v.GetString("RECURRENCE_CRON")),
		CatchUpMode:     mode,
		KafkaBrokers:    splitList(v.GetString("KAFKA_BROKERS")),
		TaskEventsTopic: strings.TrimSpace(v.GetString("TASK_EVENTS_TOPIC")),
		NotifierGroupID: strings.TrimSpace(v.GetString("NOTIFIER_GROUP_ID")),
		Notifier:        strings.TrimSpace(v.GetString("NOTIFIER")),
		GRPCHealthAddr:  strings.TrimSpace(v.GetString("GRPC_HEALTH_ADDR")),
		LogLevel:        strings.ToLower(strings.TrimSpace(v.GetString("LOG_LEVEL"))),
	}
	return cfg, cfg.Validate()
}

// Bootstrap points hlog at out before loading, so a configuration error is
// logged there too, then applies the configured level.
func Bootstrap(out io.Writer) (Config, error) {
	hlog.SetOutput(out)
	cfg, err := Load()
	if err != nil {
		hlog.Errorf("Invalid configuration: %v", err)
		return Config{}, err
	}
	hlog.SetLevel(cfg.HlogLevel())
	return cfg, nil
}

// Validate rejects settings the services cannot start with.
func (c Config) Validate() error {
	if c.DBType != gormdb.TypeSQLite && c.DBType != gormdb.TypeMySQL {
		return fmt.Errorf("DB_TYPE must be %q or %q, got %q", gormdb.TypeSQLite, gormdb.TypeMySQL, c.DBType)
	}
	if c.RecurrenceCron == "" {
		return fmt.Errorf("RECURRENCE_CRON is required")
	}
	if c.UploadRoot == "" {
		return fmt.Errorf("UPLOAD_ROOT is required")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", c.MaxUploadBytes)
	}
	if _, ok := hlogLevels[c.LogLevel]; !ok {
		return fmt.Errorf("LOG_LEVEL %q is not one of debug, info, warn, error", c.LogLevel)
	}
	return nil
}

// EventsEnabled reports whether generated tasks are published to Kafka.
func (c Config) EventsEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

var hlogLevels = map[string]hlog.Level{
	"debug": hlog.LevelDebug,
	"info":  hlog.LevelInfo,
	"warn":  hlog.LevelWarn,
	"error": hlog.LevelError,
}

// HlogLevel maps LOG_LEVEL to the Hertz logger level.
func (c Config) HlogLevel() hlog.Level {
	if lvl, ok := hlogLevels[c.LogLevel]; ok {
		return lvl
	}
	return hlog.LevelInfo
}

// GormLogLevel keeps SQL logging quiet unless debugging.
func (c Config) GormLogLevel() logger.LogLevel {
	switch c.LogLevel {
	case "debug":
		return logger.Info
	case "error":
		return logger.Error
	default:
		return logger.Warn
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
