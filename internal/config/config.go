package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigPath = "files/settings.yaml"
	LocalConfigPath   = "files/settings.local.yaml"
)

// Config wallet engine settings document
type Config struct {
	Threads           int   `yaml:"threads"`
	Retry             int   `yaml:"retry"`
	RetryDelaySeconds int   `yaml:"retry_delay_seconds"`
	ShuffleWallets    bool  `yaml:"shuffle_wallets"`
	RangeWalletsToRun []int `yaml:"range_wallets_to_run"`
	ExactWalletsToRun []int `yaml:"exact_wallets_to_run"`
	Repeat            bool  `yaml:"repeat"`

	ShowWalletAddressLog bool   `yaml:"show_wallet_address_log"`
	LogLevel             string `yaml:"log_level"`

	PrivateKeyEncryption     bool `yaml:"private_key_encryption"`
	AutoReplaceProxy         bool `yaml:"auto_replace_proxy"`
	AutoReplaceSocial        bool `yaml:"auto_replace_social"`
	ResourceFailureThreshold int  `yaml:"resource_failure_threshold"`

	RandomPauseStartWallet           Range `yaml:"random_pause_start_wallet"`
	RandomPauseBetweenActions        Range `yaml:"random_pause_between_actions"`
	RandomPauseWalletAfterCompletion Range `yaml:"random_pause_wallet_after_completion"`
	RandomPauseWalletLongDelay       Range `yaml:"random_pause_wallet_long_delay"`
	RoundDelay                       Range `yaml:"round_delay"`
	LongDelayChancePercent           int   `yaml:"long_delay_chance_percent"`

	FaucetCooldownHours   int `yaml:"faucet_cooldown_hours"`
	DepositTimeoutSeconds int `yaml:"deposit_timeout_seconds"`
	DepositPollSeconds    int `yaml:"deposit_poll_seconds"`
	MaxCompletedGames     int `yaml:"max_completed_games"`

	Database     DatabaseConfig     `yaml:"database"`
	Files        FilesConfig        `yaml:"files"`
	Reserve      ReserveConfig      `yaml:"reserve"`
	Redis        RedisConfig        `yaml:"redis"`
	NATS         NATSConfig         `yaml:"nats"`
	Telegram     TelegramConfig     `yaml:"telegram"`
	StatusServer StatusServerConfig `yaml:"status_server"`
	Chain        ChainConfig        `yaml:"chain"`
	Platform     PlatformConfig     `yaml:"platform"`
}

// Range randomized delay pair in seconds
type Range struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

// DatabaseConfig Database configuration
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite | postgres
	DSN    string `yaml:"dsn"`
}

// FilesConfig locations of the on-disk state, relative to Dir unless absolute
type FilesConfig struct {
	Dir           string `yaml:"dir"`
	Salt          string `yaml:"salt"`
	ReserveProxy  string `yaml:"reserve_proxy"`
	ReserveSocial string `yaml:"reserve_social"`
	PrivateKeys   string `yaml:"private_keys"`
	Proxies       string `yaml:"proxies"`
	SocialTokens  string `yaml:"social_tokens"`
	Log           string `yaml:"log"`
}

// ReserveConfig selects the reserve pool backend
type ReserveConfig struct {
	Backend string `yaml:"backend"` // file | redis
}

// RedisConfig Redis reserve pool configuration
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	ProxyKey  string `yaml:"proxy_key"`
	SocialKey string `yaml:"social_key"`
}

// NATSConfig NATS publisher configuration
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
	Timeout int    `yaml:"timeout"`
}

// TelegramConfig operator alert configuration
type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
}

// StatusServerConfig status HTTP server configuration
type StatusServerConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Listen     string   `yaml:"listen"`
	AllowedIPs []string `yaml:"allowed_ips"`
}

// ChainConfig RPC endpoint used for balance polling
type ChainConfig struct {
	RPCURL string `yaml:"rpc_url"`
}

// PlatformConfig remote activity platform the actions talk to
type PlatformConfig struct {
	BaseURL string `yaml:"base_url"`
	Timeout int    `yaml:"timeout"`
}

// Default returns the settings used when a key is absent from the document
func Default() *Config {
	return &Config{
		Threads:                          4,
		Retry:                            3,
		RetryDelaySeconds:                3,
		ShuffleWallets:                   true,
		RangeWalletsToRun:                []int{0, 0},
		Repeat:                           true,
		ShowWalletAddressLog:             true,
		LogLevel:                         "INFO",
		AutoReplaceProxy:                 true,
		AutoReplaceSocial:                true,
		ResourceFailureThreshold:         3,
		RandomPauseStartWallet:           Range{Min: 10, Max: 60},
		RandomPauseBetweenActions:        Range{Min: 5, Max: 30},
		RandomPauseWalletAfterCompletion: Range{Min: 3600, Max: 7200},
		RandomPauseWalletLongDelay:       Range{Min: 21600, Max: 43200},
		RoundDelay:                       Range{Min: 60, Max: 60},
		LongDelayChancePercent:           20,
		FaucetCooldownHours:              24,
		DepositTimeoutSeconds:            1800,
		DepositPollSeconds:               5,
		MaxCompletedGames:                1000,
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "files/wallets.db",
		},
		Files: FilesConfig{
			Dir:           "files",
			Salt:          "salt.dat",
			ReserveProxy:  "reserve_proxy.txt",
			ReserveSocial: "reserve_social.txt",
			PrivateKeys:   "private_keys.txt",
			Proxies:       "proxy.txt",
			SocialTokens:  "social_tokens.txt",
			Log:           "logs/log.log",
		},
		Reserve: ReserveConfig{Backend: "file"},
		Redis: RedisConfig{
			Addr:      "127.0.0.1:6379",
			ProxyKey:  "wallet-engine:reserve:proxy",
			SocialKey: "wallet-engine:reserve:social",
		},
		NATS: NATSConfig{
			Subject: "wallet-engine.events",
			Timeout: 10,
		},
		StatusServer: StatusServerConfig{
			Listen: "127.0.0.1:9464",
		},
		Platform: PlatformConfig{
			Timeout: 30,
		},
	}
}

// LoadConfig Load configuration file
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = DefaultConfigPath
		if _, err := os.Stat(LocalConfigPath); err == nil {
			configPath = LocalConfigPath
			logrus.Infof("🔧 Using local configuration file: %s", LocalConfigPath)
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	overrideFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configPath, err)
	}

	logrus.WithFields(logrus.Fields{
		"path":       configPath,
		"threads":    cfg.Threads,
		"retry":      cfg.Retry,
		"db_driver":  cfg.Database.Driver,
		"encryption": cfg.PrivateKeyEncryption,
		"reserve":    cfg.Reserve.Backend,
	}).Info("✅ Configuration loaded")

	return cfg, nil
}

// Parse decodes a settings document on top of Default()
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// overrideFromEnv Override configuration
func overrideFromEnv(cfg *Config) {
	if dsn := os.Getenv("WALLET_DB_DSN"); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if driver := os.Getenv("WALLET_DB_DRIVER"); driver != "" {
		cfg.Database.Driver = driver
	}
	if threads := os.Getenv("WALLET_THREADS"); threads != "" {
		if t, err := strconv.Atoi(threads); err == nil {
			cfg.Threads = t
		}
	}
	if level := os.Getenv("WALLET_LOG_LEVEL"); level != "" {
		cfg.LogLevel = strings.ToUpper(level)
	}
	if enc := os.Getenv("WALLET_ENCRYPTION"); enc != "" {
		cfg.PrivateKeyEncryption = enc == "true"
	}
	if addr := os.Getenv("WALLET_REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if base := os.Getenv("WALLET_PLATFORM_URL"); base != "" {
		cfg.Platform.BaseURL = base
	}
	if natsURL := os.Getenv("WALLET_NATS_URL"); natsURL != "" {
		cfg.NATS.URL = natsURL
	}
	if token := os.Getenv("WALLET_TG_BOT_TOKEN"); token != "" {
		cfg.Telegram.BotToken = token
	}
	if chat := os.Getenv("WALLET_TG_CHAT_ID"); chat != "" {
		if id, err := strconv.ParseInt(chat, 10, 64); err == nil {
			cfg.Telegram.ChatID = id
		}
	}
}

// Path resolves a file under Files.Dir
func (c *Config) Path(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.Files.Dir, name)
}
