package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/semmidev/pgstash/internal/domain"
	"github.com/spf13/viper"
)

type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Backup     BackupConfig     `mapstructure:"backup"`
	Encryption EncryptionConfig `mapstructure:"encryption"`
	Schedule   ScheduleConfig   `mapstructure:"schedule"`
	Vault      VaultConfig      `mapstructure:"vault"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`
}

type DatabaseConfig struct {
	Type     string `mapstructure:"type"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`

	// Path or name of the dump and probe binaries; empty means the engine default.
	DumpCommand  string `mapstructure:"dump_command"`
	ProbeCommand string `mapstructure:"probe_command"`

	ReadinessInterval time.Duration `mapstructure:"readiness_interval"`
	ReadinessTimeout  time.Duration `mapstructure:"readiness_timeout"`
}

type BackupConfig struct {
	LocalPath        string         `mapstructure:"local_path"`
	Prefix           string         `mapstructure:"prefix"`
	Retention        time.Duration  `mapstructure:"retention"`
	RetentionDays    int            `mapstructure:"retention_days"`
	CompressionLevel int            `mapstructure:"compression_level"`
	UploadTargets    []UploadTarget `mapstructure:"upload_targets"`
}

type EncryptionConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Passphrase string `mapstructure:"passphrase"`
	WorkFactor int    `mapstructure:"work_factor"`
}

// ScheduleConfig drives daemon mode. Specs use the six-field cron format.
type ScheduleConfig struct {
	Backups []string `mapstructure:"backups"`
	Cleanup string   `mapstructure:"cleanup"`
}

type VaultConfig struct {
	Address    string `mapstructure:"address"`
	Token      string `mapstructure:"token"`
	SecretPath string `mapstructure:"secret_path"`
}

type UploadTarget struct {
	Type    string `mapstructure:"type"`
	Enabled bool   `mapstructure:"enabled"`

	// Local mirror directory
	Path string `mapstructure:"path"`

	// Google Drive
	CredentialsFile string `mapstructure:"credentials_file"`
	FolderID        string `mapstructure:"folder_id"`

	// AWS S3 or a compatible store (Endpoint set, e.g. MinIO)
	Region       string `mapstructure:"region"`
	Bucket       string `mapstructure:"bucket"`
	AccessKey    string `mapstructure:"access_key"`
	SecretKey    string `mapstructure:"secret_key"`
	Prefix       string `mapstructure:"prefix"`
	Endpoint     string `mapstructure:"endpoint"`
	UsePathStyle bool   `mapstructure:"use_path_style"`

	// Telegram
	BotToken   string `mapstructure:"bot_token"`
	ChatID     string `mapstructure:"chat_id"`
	SendFile   bool   `mapstructure:"send_file"`
	NotifyOnly bool   `mapstructure:"notify_only"`
}

// envBindings maps config keys to their PGSTASH_ environment variable.
// legacyEnv adds the names the postgres container image uses.
var envBindings = map[string]string{
	"app.log_level":               "PGSTASH_LOG_LEVEL",
	"app.log_file":                "PGSTASH_LOG_FILE",
	"database.type":               "PGSTASH_DB_TYPE",
	"database.host":               "PGSTASH_DB_HOST",
	"database.port":               "PGSTASH_DB_PORT",
	"database.username":           "PGSTASH_DB_USER",
	"database.password":           "PGSTASH_DB_PASSWORD",
	"database.database":           "PGSTASH_DB_NAME",
	"database.readiness_interval": "PGSTASH_READINESS_INTERVAL",
	"database.readiness_timeout":  "PGSTASH_READINESS_TIMEOUT",
	"backup.local_path":           "PGSTASH_BACKUP_DIR",
	"backup.prefix":               "PGSTASH_BACKUP_PREFIX",
	"backup.retention":            "PGSTASH_RETENTION",
	"backup.retention_days":       "PGSTASH_RETENTION_DAYS",
	"backup.compression_level":    "PGSTASH_COMPRESSION_LEVEL",
	"encryption.enabled":          "PGSTASH_ENCRYPTION_ENABLED",
	"encryption.passphrase":       "PGSTASH_ENCRYPTION_PASSPHRASE",
	"vault.address":               "PGSTASH_VAULT_ADDR",
	"vault.token":                 "PGSTASH_VAULT_TOKEN",
	"vault.secret_path":           "PGSTASH_VAULT_SECRET_PATH",
}

var legacyEnv = map[string][]string{
	"database.host":         {"POSTGRES_HOST"},
	"database.port":         {"POSTGRES_PORT"},
	"database.username":     {"POSTGRES_USER"},
	"database.password":     {"POSTGRES_PASSWORD"},
	"database.database":     {"POSTGRES_DB"},
	"backup.local_path":     {"BACKUP_DIR"},
	"backup.prefix":         {"BACKUP_PREFIX"},
	"backup.retention":      {"RETENTION"},
	"backup.retention_days": {"RETENTION_DAYS"},
	"encryption.enabled":    {"ENCRYPTION_ENABLED"},
	"encryption.passphrase": {"ENCRYPTION_PASSPHRASE"},
	"vault.address":         {"VAULT_ADDR"},
	"vault.token":           {"VAULT_TOKEN"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "pgstash")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("database.type", "postgresql")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.readiness_interval", 3*time.Second)
	v.SetDefault("database.readiness_timeout", 10*time.Minute)
	v.SetDefault("backup.local_path", "/backups")
	v.SetDefault("backup.retention", 7*24*time.Hour)
	v.SetDefault("backup.compression_level", 6)
	v.SetDefault("encryption.work_factor", 18)
	v.SetDefault("schedule.backups", []string{"0 0 1 * * *", "0 0 13 * * *"})
	v.SetDefault("schedule.cleanup", "0 0 1 * * *")
}

// Load builds the configuration from defaults, the optional YAML file at
// path and the environment. It does not validate; see Validate.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, name := range envBindings {
		names := append([]string{name}, legacyEnv[key]...)
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Database.Port == 0 {
		cfg.Database.Port = defaultPort(cfg.Database.Type)
	}
	if cfg.Backup.Prefix == "" {
		cfg.Backup.Prefix = cfg.Database.Database
	}

	return &cfg, nil
}

func defaultPort(dbType string) int {
	if strings.EqualFold(dbType, "mysql") {
		return 3306
	}
	return 5432
}

// RetentionWindow returns the age threshold for the sweep. An explicit
// retention_days wins over the duration form.
func (c *Config) RetentionWindow() time.Duration {
	if c.Backup.RetentionDays > 0 {
		return time.Duration(c.Backup.RetentionDays) * 24 * time.Hour
	}
	return c.Backup.Retention
}

// Validate checks the mandatory fields. Every failure wraps
// domain.ErrConfiguration.
func (c *Config) Validate() error {
	var errs []error

	if c.Database.Username == "" {
		errs = append(errs, errors.New("database.username is required"))
	}
	if c.Database.Password == "" {
		errs = append(errs, errors.New("database.password is required"))
	}
	if c.Database.Database == "" {
		errs = append(errs, errors.New("database.database is required"))
	}
	if c.Database.Host == "" {
		errs = append(errs, errors.New("database.host is required"))
	}
	switch strings.ToLower(c.Database.Type) {
	case "postgresql", "postgres", "mysql":
	default:
		errs = append(errs, fmt.Errorf("database.type %q is not supported", c.Database.Type))
	}
	if c.Database.ReadinessInterval <= 0 {
		errs = append(errs, errors.New("database.readiness_interval must be positive"))
	}
	if c.Database.ReadinessTimeout < 0 {
		errs = append(errs, errors.New("database.readiness_timeout must not be negative"))
	}

	if c.Backup.LocalPath == "" {
		errs = append(errs, errors.New("backup.local_path is required"))
	}
	if c.Backup.Prefix == "" || strings.ContainsAny(c.Backup.Prefix, `/\`) {
		errs = append(errs, fmt.Errorf("backup.prefix %q is invalid", c.Backup.Prefix))
	}
	if c.RetentionWindow() <= 0 {
		errs = append(errs, errors.New("backup retention must be positive"))
	}
	if c.Backup.CompressionLevel < 1 || c.Backup.CompressionLevel > 9 {
		errs = append(errs, fmt.Errorf("backup.compression_level %d out of range 1-9", c.Backup.CompressionLevel))
	}

	if c.Encryption.Enabled {
		if c.Encryption.Passphrase == "" {
			errs = append(errs, errors.New("encryption.passphrase is required when encryption is enabled"))
		}
		// scrypt log2(N); age panics above 30.
		if c.Encryption.WorkFactor < 1 || c.Encryption.WorkFactor > 30 {
			errs = append(errs, fmt.Errorf("encryption.work_factor %d out of range 1-30", c.Encryption.WorkFactor))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", domain.ErrConfiguration, errors.Join(errs...))
	}
	return nil
}

func (c *Config) GetEnabledUploadTargets() []UploadTarget {
	var enabled []UploadTarget
	for _, target := range c.Backup.UploadTargets {
		if target.Enabled {
			enabled = append(enabled, target)
		}
	}
	return enabled
}

// ApplySecrets fills credentials left empty by the file and environment.
// Recognised keys are "password" and "passphrase".
func (c *Config) ApplySecrets(secrets map[string]string) {
	if c.Database.Password == "" {
		c.Database.Password = secrets["password"]
	}
	if c.Encryption.Passphrase == "" {
		c.Encryption.Passphrase = secrets["passphrase"]
	}
}

// UsesVault reports whether credentials should be looked up in Vault.
func (c *Config) UsesVault() bool {
	return c.Vault.Address != "" && c.Vault.SecretPath != ""
}
