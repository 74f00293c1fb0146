package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load builds the configuration from defaults, the TOML file at path (if it
// exists), and PERPBOT_* environment variables, in increasing precedence.
// A .env file in the working directory is loaded first so local development
// can keep secrets out of the TOML file.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setStr("PERPBOT_MODE", &cfg.Mode)
	setStr("PERPBOT_LOG_LEVEL", &cfg.LogLevel)
	setBool("PERPBOT_PARKED", &cfg.Parked)

	setStr("PERPBOT_POSTGRES_DSN", &cfg.Postgres.DSN)
	setStr("PERPBOT_POSTGRES_HOST", &cfg.Postgres.Host)
	setInt("PERPBOT_POSTGRES_PORT", &cfg.Postgres.Port)
	setStr("PERPBOT_POSTGRES_DATABASE", &cfg.Postgres.Database)
	setStr("PERPBOT_POSTGRES_USER", &cfg.Postgres.User)
	setStr("PERPBOT_POSTGRES_PASSWORD", &cfg.Postgres.Password)
	setStr("PERPBOT_POSTGRES_SSL_MODE", &cfg.Postgres.SSLMode)
	setBool("PERPBOT_POSTGRES_RUN_MIGRATIONS", &cfg.Postgres.RunMigrations)

	setStr("PERPBOT_REDIS_ADDR", &cfg.Redis.Addr)
	setStr("PERPBOT_REDIS_PASSWORD", &cfg.Redis.Password)
	setInt("PERPBOT_REDIS_DB", &cfg.Redis.DB)
	setBool("PERPBOT_REDIS_TLS", &cfg.Redis.TLSEnabled)

	setStr("PERPBOT_S3_ENDPOINT", &cfg.S3.Endpoint)
	setStr("PERPBOT_S3_REGION", &cfg.S3.Region)
	setStr("PERPBOT_S3_BUCKET", &cfg.S3.Bucket)
	setStr("PERPBOT_S3_ACCESS_KEY", &cfg.S3.AccessKey)
	setStr("PERPBOT_S3_SECRET_KEY", &cfg.S3.SecretKey)
	setBool("PERPBOT_ARCHIVE_ENABLED", &cfg.Archive.Enabled)

	setStr("PERPBOT_ORACLE_ENDPOINT", &cfg.Oracle.Endpoint)
	setStr("PERPBOT_ORACLE_API_KEY", &cfg.Oracle.APIKey)
	setInt("PERPBOT_ORACLE_INTERVAL_SEC", &cfg.Oracle.IntervalSec)
	setInt("PERPBOT_ORACLE_TIMEOUT_SEC", &cfg.Oracle.TimeoutSec)

	setFloat64("PERPBOT_RISK_SAFE", &cfg.Risk.RiskSafe)
	setFloat64("PERPBOT_RISK_AGGRESSIVE", &cfg.Risk.RiskAggressive)
	setInt("PERPBOT_MAX_LEVERAGE", &cfg.Risk.MaxLeverage)
	setStringSlice("PERPBOT_SAFE_ASSETS", &cfg.Risk.SafeAssets)

	setFloat64("PERPBOT_DD_DAILY_LIMIT_PCT", &cfg.Drawdown.DailyLimitPct)
	setFloat64("PERPBOT_DD_WEEKLY_LIMIT_PCT", &cfg.Drawdown.WeeklyLimitPct)
	setFloat64("PERPBOT_DD_ATH_LIMIT_PCT", &cfg.Drawdown.ATHLimitPct)

	setBool("PERPBOT_SERVER_ENABLED", &cfg.Server.Enabled)
	setInt("PERPBOT_SERVER_PORT", &cfg.Server.Port)

	setStr("PERPBOT_TELEGRAM_TOKEN", &cfg.Notify.TelegramToken)
	setStr("PERPBOT_TELEGRAM_CHAT_ID", &cfg.Notify.TelegramChatID)
	setStr("PERPBOT_DISCORD_WEBHOOK_URL", &cfg.Notify.DiscordWebhookURL)

	setFloat64("PERPBOT_PAPER_START_EQUITY", &cfg.Paper.StartEquity)
}

func setStr(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(key string, dst *int) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(key string, dst *float64) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(key string, dst *bool) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setStringSlice(key string, dst *[]string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			*dst = out
		}
	}
}
