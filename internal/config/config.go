package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents runtime configuration for the service.
type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	SSH      SSHConfig      `json:"ssh"`
	Redis    RedisConfig    `json:"redis"`
	Chat     ChatConfig     `json:"chat"`
	Trading  TradingConfig  `json:"trading"`
	Log      LogConfig      `json:"log"`
}

type ServerConfig struct {
	Host        string   `json:"host"`
	Port        int      `json:"port"`
	Debug       bool     `json:"debug"`
	CORSOrigins []string `json:"cors_origins"`
}

// Address returns the host:port the HTTP server binds to.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	Driver   string `json:"driver"`
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	Schema   string `json:"schema"`
	// QueryTimeout bounds a single query, including the wait for a pool slot.
	QueryTimeout Duration `json:"query_timeout"`
}

type SSHConfig struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	User       string `json:"user"`
	Password   string `json:"password"`
	KnownHosts string `json:"known_hosts"`
}

// Enabled reports whether enough settings are present to open a tunnel.
func (s SSHConfig) Enabled() bool {
	return s.Host != "" && s.User != "" && s.Password != ""
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type ChatConfig struct {
	Root            string   `json:"root"`
	MaxUploadBytes  int64    `json:"max_upload_bytes"`
	JanitorInterval Duration `json:"janitor_interval"`
	PendingTTL      Duration `json:"pending_ttl"`
}

type TradingConfig struct {
	ETFProcedure        string   `json:"etf_procedure"`
	StockProcedure      string   `json:"stock_procedure"`
	CustomQueryEnabled  bool     `json:"custom_query_enabled"`
	CustomQueryReadOnly bool     `json:"custom_query_read_only"`
	CustomQueryToken    string   `json:"custom_query_token"`
	SnapshotTTL         Duration `json:"snapshot_ttl"`
}

type LogConfig struct {
	Mode  string `json:"mode"`
	Level string `json:"level"`
}

// Duration decodes either a Go duration string ("30s") or a number of seconds.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalJSON(b []byte) error {
	var raw interface{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case float64:
		*d = Duration(time.Duration(v * float64(time.Second)))
	case string:
		parsed, err := parseDuration(v)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("invalid duration %s", string(b))
	}
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func parseDuration(v string) (time.Duration, error) {
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(v)
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8000,
			CORSOrigins: []string{"*"},
		},
		Database: DatabaseConfig{
			Driver:       "mysql",
			Host:         "localhost",
			Port:         3306,
			Username:     "root",
			Schema:       "GlobalMarketData",
			QueryTimeout: Duration(30 * time.Second),
		},
		SSH: SSHConfig{Port: 22},
		Chat: ChatConfig{
			Root:            "./chat_history",
			MaxUploadBytes:  10 << 20,
			JanitorInterval: Duration(time.Hour),
			PendingTTL:      Duration(24 * time.Hour),
		},
		Trading: TradingConfig{
			ETFProcedure:        "Trading.sp_etf_trades_v2",
			StockProcedure:      "Trading.sp_stock_trades_V3",
			CustomQueryReadOnly: true,
		},
		Log: LogConfig{Mode: "development", Level: "INFO"},
	}
}

// Load builds the configuration from defaults, an optional JSON file, a .env file and
// the process environment, in that order of precedence (last wins).
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve config path: %w", err)
		}
		file, err := os.Open(absPath)
		if err != nil {
			return nil, fmt.Errorf("open config %s: %w", absPath, err)
		}
		defer file.Close()
		defaultRoot := cfg.Chat.Root
		cfg.Chat.Root = ""
		if err := json.NewDecoder(file).Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
		// Only a root set in the file is relative to the file.
		switch {
		case cfg.Chat.Root == "":
			cfg.Chat.Root = defaultRoot
		case !filepath.IsAbs(cfg.Chat.Root):
			cfg.Chat.Root = filepath.Join(filepath.Dir(absPath), cfg.Chat.Root)
		}
	}

	// A missing .env is normal outside local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.loadFromEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFromEnv() error {
	setString(&c.Database.Driver, "DB_DRIVER")
	setString(&c.Database.DSN, "DB_DSN")
	setString(&c.Database.Host, "DBHOST")
	setString(&c.Database.Username, "DBUSER")
	setString(&c.Database.Password, "DBPWD")
	setString(&c.Database.Schema, "DBMKTDATA")
	setString(&c.SSH.Host, "SSHHOST")
	setString(&c.SSH.User, "SSHUSR")
	setString(&c.SSH.Password, "SSHPWD")
	setString(&c.SSH.KnownHosts, "SSH_KNOWN_HOSTS")
	setString(&c.Server.Host, "APP_HOST")
	setString(&c.Chat.Root, "CHAT_HISTORY_PATH")
	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setString(&c.Trading.CustomQueryToken, "CUSTOM_QUERY_TOKEN")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.Mode, "LOG_MODE")
	if val := os.Getenv("CORS_ORIGINS"); val != "" {
		c.Server.CORSOrigins = splitList(val)
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"DBPORT", &c.Database.Port},
		{"SSH_PORT", &c.SSH.Port},
		{"APP_PORT", &c.Server.Port},
		{"REDIS_DB", &c.Redis.DB},
	}
	for _, it := range ints {
		if err := setInt(it.dst, it.key); err != nil {
			return err
		}
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"DEBUG", &c.Server.Debug},
		{"CUSTOM_QUERY_ENABLED", &c.Trading.CustomQueryEnabled},
		{"CUSTOM_QUERY_READ_ONLY", &c.Trading.CustomQueryReadOnly},
	}
	for _, it := range bools {
		if err := setBool(it.dst, it.key); err != nil {
			return err
		}
	}

	if val := os.Getenv("TRADING_SNAPSHOT_TTL"); val != "" {
		d, err := parseDuration(val)
		if err != nil {
			return fmt.Errorf("parse TRADING_SNAPSHOT_TTL: %w", err)
		}
		c.Trading.SnapshotTTL = Duration(d)
	}
	return nil
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Database.Driver) {
	case "mysql":
		if c.Database.Host == "" {
			return errors.New("database host must be configured")
		}
	case "sqlite", "sqlite3":
		if c.Database.DSN == "" {
			return errors.New("sqlite dsn must be configured")
		}
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Chat.Root == "" {
		return errors.New("chat history path must be configured")
	}
	if c.Chat.MaxUploadBytes <= 0 {
		return errors.New("chat max_upload_bytes must be positive")
	}
	if c.Trading.ETFProcedure == "" || c.Trading.StockProcedure == "" {
		return errors.New("trading procedures must be configured")
	}
	return nil
}

func setString(dst *string, key string) {
	if val, ok := os.LookupEnv(key); ok {
		*dst = val
	}
}

func setInt(dst *int, key string) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	*dst = parsed
	return nil
}

func setBool(dst *bool, key string) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	*dst = parsed
	return nil
}

func splitList(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
