// Package config defines the top-level configuration for the perp engine and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by PERPBOT_* environment
// variables.
type Config struct {
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Oracle    OracleConfig    `toml:"oracle"`
	Quality   QualityConfig   `toml:"quality"`
	Health    HealthConfig    `toml:"health"`
	Drawdown  DrawdownConfig  `toml:"drawdown"`
	Risk      RiskConfig      `toml:"risk"`
	Execution ExecutionConfig `toml:"execution"`
	Lifecycle LifecycleConfig `toml:"lifecycle"`
	Paper     PaperConfig     `toml:"paper"`
	Archive   ArchiveConfig   `toml:"archive"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
	Parked    bool            `toml:"parked"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	// InstanceLockTTL bounds how long a crashed instance can hold the
	// single-instance lock.
	InstanceLockTTLSec int `toml:"instance_lock_ttl_sec"`
}

// S3Config holds S3-compatible object storage parameters for archival.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// OracleConfig holds decision-cycle parameters and the endpoint of the
// external reasoning service.
type OracleConfig struct {
	Endpoint          string `toml:"endpoint"`
	APIKey            string `toml:"api_key"`
	IntervalSec       int    `toml:"interval_sec"`
	ParkedIntervalSec int    `toml:"parked_interval_sec"`
	TimeoutSec        int    `toml:"timeout_sec"`
}

// QualityConfig holds data-quality gate thresholds.
type QualityConfig struct {
	MaxPriceAgeSec    int     `toml:"max_price_age_sec"`
	MinBasketSize     int     `toml:"min_basket_size"`
	MinFreshRatio     float64 `toml:"min_fresh_ratio"`
	MinATRCoverage    float64 `toml:"min_atr_coverage"`
	MaxCheckedAssets  int     `toml:"max_checked_assets"`
}

// HealthConfig holds health state machine thresholds.
type HealthConfig struct {
	DegradedFailures     int  `toml:"degraded_failures"`
	OutageFailures       int  `toml:"outage_failures"`
	OutageElapsedSec     int  `toml:"outage_elapsed_sec"`
	RecoverSuccessStreak int  `toml:"recover_success_streak"`
	OutageFlattenSec     int  `toml:"outage_flatten_sec"`
	BlockRecovering      bool `toml:"block_recovering"`
	AutoFlatten          bool `toml:"auto_flatten"`
}

// DrawdownConfig holds drawdown guard thresholds.
type DrawdownConfig struct {
	DailyLimitPct      float64 `toml:"daily_limit_pct"`
	WeeklyLimitPct     float64 `toml:"weekly_limit_pct"`
	ATHLimitPct        float64 `toml:"ath_limit_pct"`
	ATHRecoveryPct     float64 `toml:"ath_recovery_pct"`
	WeeklyRiskFactor   float64 `toml:"weekly_risk_factor"`
	CheckIntervalSec   int     `toml:"check_interval_sec"`
	HistoryDays        int     `toml:"history_days"`
	AutoFlatten        bool    `toml:"auto_flatten"`
	AutoPark           bool    `toml:"auto_park"`
}

// RiskConfig holds sleeve rules, sizing, and protective-level parameters.
type RiskConfig struct {
	RiskSafe          float64  `toml:"risk_safe"`
	RiskAggressive    float64  `toml:"risk_aggressive"`
	MaxLeverage       int      `toml:"max_leverage"`
	MinRRSafe         float64  `toml:"min_rr_safe"`
	MinRRAggressive   float64  `toml:"min_rr_aggressive"`
	MinConfidenceSafe int      `toml:"min_confidence_safe"`
	MinConfidenceAggr int      `toml:"min_confidence_aggressive"`
	PumpScoreThreshold int     `toml:"pump_score_threshold"`
	SafeAssets        []string `toml:"safe_assets"`
	ReadinessHours    float64  `toml:"readiness_hours"`
	// Sleeve split: below the threshold the whole equity is one aggressive
	// budget; above it the aggressive sleeve is equity*aggr_pct (min floor).
	SplitThreshold float64 `toml:"split_threshold"`
	AggrPct        float64 `toml:"aggr_pct"`
	MinAggr        float64 `toml:"min_aggr"`
}

// ExecutionConfig holds execution-router tier parameters.
type ExecutionConfig struct {
	PostOnlyEnabled       bool    `toml:"post_only_enabled"`
	PostOnlyOffsetPct     float64 `toml:"post_only_offset_pct"`
	PostOnlyTimeoutSec    int     `toml:"post_only_timeout_sec"`
	IOCEnabled            bool    `toml:"ioc_enabled"`
	IOCSlippagePct        float64 `toml:"ioc_slippage_pct"`
	MarketEnabled         bool    `toml:"market_enabled"`
	GuardMaxSpreadPct     float64 `toml:"guard_max_spread_pct"`
	GuardMaxSizeToVol1m   float64 `toml:"guard_max_size_to_vol1m_pct"`
	GuardRetryIOCEnabled  bool    `toml:"guard_retry_ioc_enabled"`
	GuardRetryIOCSlipPct  float64 `toml:"guard_retry_ioc_slippage_pct"`
	TierTimeoutSec        int     `toml:"tier_timeout_sec"`
}

// LifecycleConfig holds trade lifecycle parameters.
type LifecycleConfig struct {
	TickIntervalSec      int     `toml:"tick_interval_sec"`
	TrailingActivationPct float64 `toml:"trailing_activation_pct"`
	TrailingPct          float64 `toml:"trailing_pct"`
	MinHoldMin           int     `toml:"min_hold_min"`
	MaxHoldMin           int     `toml:"max_hold_min"`
	SnapshotIntervalSec  int     `toml:"snapshot_interval_sec"`
}

// PaperConfig holds synthetic-fill parameters used in paper mode.
type PaperConfig struct {
	SlippageMinPct   float64 `toml:"slippage_min_pct"`
	SlippageMaxPct   float64 `toml:"slippage_max_pct"`
	SlippageATRMult  float64 `toml:"slippage_atr_mult"`
	TakerFeeRate     float64 `toml:"taker_fee_rate"`
	FundingRatePer8h float64 `toml:"funding_rate_per_8h"`
	StartEquity      float64 `toml:"start_equity"`
}

// ArchiveConfig holds S3 archival parameters.
type ArchiveConfig struct {
	Enabled       bool `toml:"enabled"`
	RetentionDays int  `toml:"retention_days"`
	IntervalHours int  `toml:"interval_hours"`
}

// ServerConfig holds the read-only HTTP/WebSocket surface parameters.
type ServerConfig struct {
	Enabled bool `toml:"enabled"`
	Port    int  `toml:"port"`
}

// NotifyConfig holds notification channel parameters.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config pre-populated with the operational defaults.
// Numeric thresholds are policy, not architecture; every one of them can be
// overridden by TOML or environment.
func Defaults() Config {
	return Config{
		Mode:     "paper",
		LogLevel: "info",
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "perpbot",
			User:          "perpbot",
			SSLMode:       "disable",
			PoolMaxConns:  8,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:               "localhost:6379",
			PoolSize:           8,
			MaxRetries:         3,
			InstanceLockTTLSec: 60,
		},
		Oracle: OracleConfig{
			IntervalSec:       300,
			ParkedIntervalSec: 60,
			TimeoutSec:        45,
		},
		Quality: QualityConfig{
			MaxPriceAgeSec:   20,
			MinBasketSize:    10,
			MinFreshRatio:    0.60,
			MinATRCoverage:   0.50,
			MaxCheckedAssets: 40,
		},
		Health: HealthConfig{
			DegradedFailures:     3,
			OutageFailures:       5,
			OutageElapsedSec:     300,
			RecoverSuccessStreak: 2,
			OutageFlattenSec:     300,
			BlockRecovering:      true,
			AutoFlatten:          true,
		},
		Drawdown: DrawdownConfig{
			DailyLimitPct:    5.0,
			WeeklyLimitPct:   17.5,
			ATHLimitPct:      30.0,
			ATHRecoveryPct:   10.0,
			WeeklyRiskFactor: 0.5,
			CheckIntervalSec: 60,
			HistoryDays:      8,
			AutoFlatten:      true,
			AutoPark:         true,
		},
		Risk: RiskConfig{
			RiskSafe:           0.015,
			RiskAggressive:     0.12,
			MaxLeverage:        10,
			MinRRSafe:          2.0,
			MinRRAggressive:    1.5,
			MinConfidenceSafe:  80,
			MinConfidenceAggr:  70,
			PumpScoreThreshold: 60,
			SafeAssets:         []string{"BTC-PERP-INTX", "ETH-PERP-INTX", "SOL-PERP-INTX"},
			ReadinessHours:     12.0,
			SplitThreshold:     10000,
			AggrPct:            0.10,
			MinAggr:            1000,
		},
		Execution: ExecutionConfig{
			PostOnlyEnabled:      true,
			PostOnlyOffsetPct:    0.02,
			PostOnlyTimeoutSec:   10,
			IOCEnabled:           true,
			IOCSlippagePct:       0.05,
			MarketEnabled:        true,
			GuardMaxSpreadPct:    0.35,
			GuardMaxSizeToVol1m:  0.5,
			GuardRetryIOCEnabled: true,
			GuardRetryIOCSlipPct: 0.08,
			TierTimeoutSec:       10,
		},
		Lifecycle: LifecycleConfig{
			TickIntervalSec:       5,
			TrailingActivationPct: 10.0,
			TrailingPct:           4.0,
			MinHoldMin:            5,
			MaxHoldMin:            90,
			SnapshotIntervalSec:   1,
		},
		Paper: PaperConfig{
			SlippageMinPct:   0.10,
			SlippageMaxPct:   0.50,
			SlippageATRMult:  0.50,
			TakerFeeRate:     0.0006,
			FundingRatePer8h: 0.0003,
			StartEquity:      10000,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			IntervalHours: 24,
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8085,
		},
	}
}

// Validate checks configuration invariants that cannot be expressed through
// defaults alone.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Mode) {
	case "live", "paper":
	default:
		return fmt.Errorf("config: unsupported mode %q (want live or paper)", c.Mode)
	}

	if c.Postgres.DSN == "" && (c.Postgres.Host == "" || c.Postgres.Database == "" || c.Postgres.User == "") {
		return fmt.Errorf("config: postgres requires dsn or host/database/user")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("config: redis addr is required")
	}

	if c.Health.OutageFailures <= c.Health.DegradedFailures {
		return fmt.Errorf("config: health outage_failures (%d) must exceed degraded_failures (%d)",
			c.Health.OutageFailures, c.Health.DegradedFailures)
	}
	if c.Health.RecoverSuccessStreak < 1 {
		return fmt.Errorf("config: health recover_success_streak must be >= 1")
	}

	if c.Drawdown.DailyLimitPct <= 0 || c.Drawdown.WeeklyLimitPct <= 0 || c.Drawdown.ATHLimitPct <= 0 {
		return fmt.Errorf("config: drawdown limits must be positive")
	}
	if c.Drawdown.WeeklyRiskFactor <= 0 || c.Drawdown.WeeklyRiskFactor > 1 {
		return fmt.Errorf("config: drawdown weekly_risk_factor must be in (0, 1]")
	}

	if c.Risk.MaxLeverage < 1 {
		return fmt.Errorf("config: risk max_leverage must be >= 1")
	}
	if c.Risk.MinRRSafe < c.Risk.MinRRAggressive {
		return fmt.Errorf("config: min_rr_safe (%.2f) must be >= min_rr_aggressive (%.2f)",
			c.Risk.MinRRSafe, c.Risk.MinRRAggressive)
	}
	if c.Risk.MinConfidenceSafe < c.Risk.MinConfidenceAggr {
		return fmt.Errorf("config: min_confidence_safe (%d) must be >= min_confidence_aggressive (%d)",
			c.Risk.MinConfidenceSafe, c.Risk.MinConfidenceAggr)
	}

	if c.Execution.GuardMaxSpreadPct <= 0 || c.Execution.GuardMaxSizeToVol1m <= 0 {
		return fmt.Errorf("config: execution market guard thresholds must be positive")
	}
	if c.Lifecycle.TickIntervalSec < 1 {
		return fmt.Errorf("config: lifecycle tick_interval_sec must be >= 1")
	}
	if c.Paper.SlippageMaxPct < c.Paper.SlippageMinPct {
		return fmt.Errorf("config: paper slippage_max_pct must be >= slippage_min_pct")
	}

	if c.Archive.Enabled {
		if c.S3.Bucket == "" || c.S3.Region == "" {
			return fmt.Errorf("config: archive enabled but s3 bucket/region missing")
		}
	}
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		return fmt.Errorf("config: invalid server port %d", c.Server.Port)
	}
	return nil
}

// OracleInterval returns the decision-cycle interval for the given parked
// state.
func (c *Config) OracleInterval(parked bool) time.Duration {
	if parked {
		return time.Duration(c.Oracle.ParkedIntervalSec) * time.Second
	}
	return time.Duration(c.Oracle.IntervalSec) * time.Second
}

// IsPaper reports whether the engine runs with synthetic fills.
func (c *Config) IsPaper() bool {
	return strings.ToLower(c.Mode) == "paper"
}
