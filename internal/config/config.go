package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// MaxRevision is the hard ceiling for a task's revision counter.
const MaxRevision = 10

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	JWT      JWTConfig      `yaml:"jwt"`
	LDAP     LDAPConfig     `yaml:"ldap"`
	Redis    RedisConfig    `yaml:"redis"`
	Email    EmailConfig    `yaml:"email"`
	Log      LogConfig      `yaml:"log"`
	Roster   RosterConfig   `yaml:"roster"`
	Tasks    TasksConfig    `yaml:"tasks"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
	Mode string `yaml:"mode"` // debug, release, test
	// CORSOrigins empty means any origin.
	CORSOrigins []string `yaml:"cors_origins"`
	// LoginRPS limits login attempts per client IP.
	LoginRPS float64 `yaml:"login_rps"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite, mysql, postgres
	DSN    string `yaml:"dsn"`
}

type JWTConfig struct {
	Secret     string `yaml:"secret"`
	ExpireHour int    `yaml:"expire_hour"`
}

type LDAPConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	BaseDN       string `yaml:"base_dn"`
	BindDN       string `yaml:"bind_dn"`
	BindPassword string `yaml:"bind_password"`
	UserFilter   string `yaml:"user_filter"`
	UseSSL       bool   `yaml:"use_ssl"`
}

// RedisConfig for optional async notification queue
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type EmailConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	UseTLS   bool   `yaml:"use_tls"`
}

type LogConfig struct {
	Level         string `yaml:"level"`
	Format        string `yaml:"format"` // json, console; empty picks console at debug level
	RetentionDays int    `yaml:"retention_days"`
	CleanupCron   string `yaml:"cleanup_cron"`
}

// MilestoneCategory is one capstone phase. Tasks of a category are gated on
// the approval of its upstream category.
type MilestoneCategory struct {
	Key      string `yaml:"key"`
	Label    string `yaml:"label"`
	Upstream string `yaml:"upstream"`
}

type RosterConfig struct {
	Categories       []MilestoneCategory `yaml:"categories"`
	RequireMembers   bool                `yaml:"require_members"`
	CascadeBatchSize int                 `yaml:"cascade_batch_size"`
	TeamNameSuffix   string              `yaml:"team_name_suffix"`
}

type TasksConfig struct {
	Timezone    string `yaml:"timezone"`
	MaxRevision int    `yaml:"max_revision"`
}

var GlobalConfig *Config

func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	var cfg *Config

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg = DefaultConfig()
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, err
		}

		fileCfg := DefaultConfig()
		if err := yaml.Unmarshal(data, fileCfg); err != nil {
			return nil, err
		}
		cfg = fileCfg
	}

	cfg.overrideFromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	GlobalConfig = cfg
	return cfg, nil
}

// DefaultCategories returns the four capstone phases in order.
func DefaultCategories() []MilestoneCategory {
	return []MilestoneCategory{
		{Key: "title_defense", Label: "Title Defense"},
		{Key: "manuscript", Label: "Manuscript Submission", Upstream: "title_defense"},
		{Key: "oral_defense", Label: "Oral Defense", Upstream: "manuscript"},
		{Key: "final_defense", Label: "Final Defense", Upstream: "oral_defense"},
	}
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: "8080",
			Mode:     "debug",
			LoginRPS: 1,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "capstrack.db",
		},
		JWT: JWTConfig{
			Secret:     "capstrack-secret-key-change-in-production",
			ExpireHour: 24,
		},
		LDAP: LDAPConfig{
			Enabled:    false,
			Port:       389,
			UserFilter: "(uid=%s)",
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			DB:      0,
		},
		Email: EmailConfig{
			Port: 587,
		},
		Log: LogConfig{
			Level:         "info",
			RetentionDays: 30,
			CleanupCron:   "0 3 * * *",
		},
		Roster: RosterConfig{
			Categories:     DefaultCategories(),
			TeamNameSuffix: " et al.",
		},
		Tasks: TasksConfig{
			Timezone:    "UTC",
			MaxRevision: MaxRevision,
		},
	}
}

// Validate checks cross-field constraints that yaml decoding cannot express.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "mysql", "postgres":
	default:
		return fmt.Errorf("database.driver: unsupported %q", c.Database.Driver)
	}
	switch c.Log.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console")
	}
	if len(c.Roster.Categories) == 0 {
		return fmt.Errorf("roster.categories must not be empty")
	}
	seen := make(map[string]bool, len(c.Roster.Categories))
	for _, cat := range c.Roster.Categories {
		if cat.Key == "" {
			return fmt.Errorf("roster.categories: key is required")
		}
		if seen[cat.Key] {
			return fmt.Errorf("roster.categories: duplicate key %q", cat.Key)
		}
		seen[cat.Key] = true
	}
	upstream := make(map[string]string, len(c.Roster.Categories))
	for _, cat := range c.Roster.Categories {
		if cat.Upstream != "" && !seen[cat.Upstream] {
			return fmt.Errorf("roster.categories: %q has unknown upstream %q", cat.Key, cat.Upstream)
		}
		upstream[cat.Key] = cat.Upstream
	}
	// Every upstream chain must end at a category without one.
	for _, cat := range c.Roster.Categories {
		key := cat.Key
		for steps := 0; key != ""; steps++ {
			if steps > len(upstream) {
				return fmt.Errorf("roster.categories: upstream cycle through %q", cat.Key)
			}
			key = upstream[key]
		}
	}
	if c.Roster.CascadeBatchSize < 0 {
		return fmt.Errorf("roster.cascade_batch_size must be >= 0")
	}
	if c.Tasks.MaxRevision <= 0 || c.Tasks.MaxRevision > MaxRevision {
		return fmt.Errorf("tasks.max_revision must be between 1 and %d", MaxRevision)
	}
	if _, err := time.LoadLocation(c.Tasks.Timezone); err != nil {
		return fmt.Errorf("tasks.timezone: %w", err)
	}
	return nil
}

// Location returns the timezone used to interpret task due dates.
func (t TasksConfig) Location() *time.Location {
	loc, err := time.LoadLocation(t.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Category looks up a configured milestone category by key.
func (r RosterConfig) Category(key string) (MilestoneCategory, bool) {
	for _, cat := range r.Categories {
		if cat.Key == key {
			return cat, true
		}
	}
	return MilestoneCategory{}, false
}

func (c *Config) overrideFromEnv() {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		c.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		c.Server.Port = port
	}
	if mode := os.Getenv("SERVER_MODE"); mode != "" {
		c.Server.Mode = mode
	}
	if driver := os.Getenv("DB_DRIVER"); driver != "" {
		c.Database.Driver = driver
	}
	if dsn := os.Getenv("DB_DSN"); dsn != "" {
		c.Database.DSN = dsn
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		c.JWT.Secret = secret
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		c.Log.Format = format
	}
	if tz := os.Getenv("TASK_TIMEZONE"); tz != "" {
		c.Tasks.Timezone = tz
	}
	if host := os.Getenv("SMTP_HOST"); host != "" {
		c.Email.Enabled = true
		c.Email.Host = host
	}
	if port := os.Getenv("SMTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Email.Port = p
		}
	}
	if user := os.Getenv("SMTP_USERNAME"); user != "" {
		c.Email.Username = user
	}
	if pass := os.Getenv("SMTP_PASSWORD"); pass != "" {
		c.Email.Password = pass
	}
	if from := os.Getenv("SMTP_FROM"); from != "" {
		c.Email.From = from
	}
	// Redis URL override (format: redis://:password@host:port/db)
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		c.Redis.Enabled = true
		c.parseRedisURL(redisURL)
	}
}

// parseRedisURL parses a Redis URL and sets config values
// Format: redis://:password@host:port/db
func (c *Config) parseRedisURL(redisURL string) {
	url := strings.TrimPrefix(redisURL, "redis://")

	if atIdx := strings.Index(url, "@"); atIdx != -1 {
		authPart := url[:atIdx]
		url = url[atIdx+1:]
		// Password format: :password or user:password
		if colonIdx := strings.Index(authPart, ":"); colonIdx != -1 {
			c.Redis.Password = authPart[colonIdx+1:]
		}
	}

	if slashIdx := strings.LastIndex(url, "/"); slashIdx != -1 {
		dbStr := url[slashIdx+1:]
		url = url[:slashIdx]
		if db, err := strconv.Atoi(dbStr); err == nil {
			c.Redis.DB = db
		}
	}

	c.Redis.Addr = url
}

func (c *Config) Save(configPath string) error {
	if configPath == "" {
		configPath = "config.yaml"
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0644)
}
