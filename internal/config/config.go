package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultCities are the cities offered at registration when none are configured.
var DefaultCities = []string{
	"Warszawa", "Kraków", "Wrocław", "Poznań", "Gdańsk",
	"Łódź", "Szczecin", "Lublin", "Katowice", "Bydgoszcz",
	"Białystok", "Gdynia", "Częstochowa", "Radom", "Sosnowiec",
	"Toruń", "Olsztyn", "Opole", "Zielona Góra", "Tychy",
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	IntervalHours int    `yaml:"interval_hours"`
	StoragePath   string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

type Config struct {
	Telegram struct {
		BotToken string  `yaml:"bot_token"`
		Debug    bool    `yaml:"debug"`
		AdminIDs []int64 `yaml:"admin_ids"`
	} `yaml:"telegram"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Backup BackupConfig `yaml:"backup"`

	Redis struct {
		Address         string `yaml:"address"`
		Password        string `yaml:"password"`
		DB              int    `yaml:"db"`
		StateTTLMinutes int    `yaml:"state_ttl_minutes"`
	} `yaml:"redis"`

	Scheduler struct {
		Timezone             string  `yaml:"timezone"`
		CheckIntervalSeconds int     `yaml:"check_interval_seconds"`
		SendTimeoutSeconds   int     `yaml:"send_timeout_seconds"`
		RatePerSecond        float64 `yaml:"rate_per_second"`
		Burst                int     `yaml:"burst"`
		MaxRetries           *int    `yaml:"max_retries"`
	} `yaml:"scheduler"`

	Report struct {
		MinHour int `yaml:"min_hour"`
		MaxHour int `yaml:"max_hour"`
	} `yaml:"report"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		GRPCHealthPort    int  `yaml:"grpc_health_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Export struct {
		SheetsEnabled   bool   `yaml:"sheets_enabled"`
		CredentialsFile string `yaml:"credentials_file"`
		SpreadsheetID   string `yaml:"spreadsheet_id"`
		SheetName       string `yaml:"sheet_name"`
	} `yaml:"export"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`

	Cities []string `yaml:"cities"`
}

// Load reads the YAML config at path. A .env file next to the working
// directory is loaded first so ${VAR} placeholders can come from it.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err = cfg.Validate(); err != nil {
		return nil, err
	}

	if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Database.Path == "" {
		c.Database.Path = "data/cityshift.db"
	}
	if c.Backup.IntervalHours <= 0 {
		c.Backup.IntervalHours = 24
	}
	if c.Backup.StoragePath == "" {
		c.Backup.StoragePath = "data/backups"
	}
	if c.Redis.StateTTLMinutes <= 0 {
		c.Redis.StateTTLMinutes = 60
	}
	if c.Scheduler.Timezone == "" {
		c.Scheduler.Timezone = "Europe/Warsaw"
	}
	if c.Scheduler.CheckIntervalSeconds <= 0 {
		c.Scheduler.CheckIntervalSeconds = 60
	}
	if c.Scheduler.SendTimeoutSeconds <= 0 {
		c.Scheduler.SendTimeoutSeconds = 30
	}
	if c.Scheduler.RatePerSecond <= 0 {
		c.Scheduler.RatePerSecond = 20
	}
	if c.Scheduler.Burst <= 0 {
		c.Scheduler.Burst = 20
	}
	if c.Scheduler.MaxRetries == nil {
		retries := 2
		c.Scheduler.MaxRetries = &retries
	} else if *c.Scheduler.MaxRetries < 0 {
		*c.Scheduler.MaxRetries = 0
	}
	if c.Report.MinHour == 0 && c.Report.MaxHour == 0 {
		c.Report.MinHour, c.Report.MaxHour = 6, 23
	}
	if c.Monitoring.HealthCheckPort == 0 {
		c.Monitoring.HealthCheckPort = 8090
	}
	if c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Export.SheetName == "" {
		c.Export.SheetName = "Daily"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if len(c.Cities) == 0 {
		c.Cities = append([]string(nil), DefaultCities...)
	}
}

// Validate checks values that defaults cannot repair.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("scheduler.timezone: %w", err)
	}
	if c.Report.MinHour < 0 || c.Report.MaxHour > 23 || c.Report.MinHour > c.Report.MaxHour {
		return fmt.Errorf("report window %d-%d is not within 0-23", c.Report.MinHour, c.Report.MaxHour)
	}
	if c.Export.SheetsEnabled && (c.Export.CredentialsFile == "" || c.Export.SpreadsheetID == "") {
		return errors.New("export.sheets_enabled requires credentials_file and spreadsheet_id")
	}
	return nil
}

func (c *Config) CheckInterval() time.Duration {
	return time.Duration(c.Scheduler.CheckIntervalSeconds) * time.Second
}

func (c *Config) SendTimeout() time.Duration {
	return time.Duration(c.Scheduler.SendTimeoutSeconds) * time.Second
}

// Retries is the number of resends after a failed delivery. An explicit
// max_retries of 0 turns retries off.
func (c *Config) Retries() int {
	if c.Scheduler.MaxRetries == nil {
		return 0
	}
	return *c.Scheduler.MaxRetries
}

func (c *Config) StateTTL() time.Duration {
	return time.Duration(c.Redis.StateTTLMinutes) * time.Minute
}
