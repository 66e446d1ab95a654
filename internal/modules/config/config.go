package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"
)

const (
	configFilePathENV = "CONFIG_FILE"
	configDirENV      = "CONFIG_DIR"
	envPrefix         = "LEDGER"

	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// Config ...
type Config struct {
	Service struct {
		Host      string `yaml:"host"`
		AdminPort int    `yaml:"admin_port"`
	} `yaml:"service"`

	Log struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"log"`

	Storage struct {
		Driver      string `yaml:"driver"` // sqlite | postgres
		SQLitePath  string `yaml:"sqlite_path"`
		PostgresDSN string `yaml:"postgres_dsn"`
	} `yaml:"storage"`

	Scheduler struct {
		Interval       time.Duration `yaml:"interval"`
		PassTimeout    time.Duration `yaml:"pass_timeout"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
	} `yaml:"scheduler"`

	Evaluation struct {
		PopupsEnabled bool `yaml:"popups_enabled"`
	} `yaml:"evaluation"`

	Reconcile struct {
		// Сколько проходов подряд ждём историю закрытой позиции, прежде чем сдаться.
		MaxCloseRetries int           `yaml:"max_close_retries"`
		MaxCloseAge     time.Duration `yaml:"max_close_age"`
		FillsLookback   time.Duration `yaml:"fills_lookback"`
	} `yaml:"reconcile"`

	Exchanges struct {
		OKX  ExchangeConfig `yaml:"okx"`
		MEXC ExchangeConfig `yaml:"mexc"`
	} `yaml:"exchanges"`

	Vault struct {
		Passphrase string `yaml:"passphrase"`
	} `yaml:"vault"`

	Telegram struct {
		Token  string `yaml:"token"`
		ChatID int64  `yaml:"chat_id"`
	} `yaml:"telegram"`

	Tracing struct {
		Enabled     bool   `yaml:"enabled"`
		Host        string `yaml:"host"`
		Port        int    `yaml:"port"`
		ServiceName string `yaml:"service_name"`
	} `yaml:"tracing"`
}

// ExchangeConfig API-доступ к бирже. Secret и Passphrase хранятся
// зашифрованными через vault.
type ExchangeConfig struct {
	Enabled    bool   `yaml:"enabled"`
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	APISecret  string `yaml:"api_secret"`
	Passphrase string `yaml:"passphrase"`
}

func defaults() Config {
	var c Config
	c.Service.Host = "127.0.0.1"
	c.Service.AdminPort = 8081
	c.Log.Level = "info"
	c.Storage.Driver = StorageSQLite
	c.Storage.SQLitePath = "./data/ledger.db"
	c.Scheduler.Interval = 60 * time.Second
	c.Scheduler.PassTimeout = 10 * time.Second
	c.Scheduler.RequestTimeout = 5 * time.Second
	c.Evaluation.PopupsEnabled = true
	c.Reconcile.MaxCloseRetries = 1440 // сутки при интервале 60s
	c.Reconcile.MaxCloseAge = 7 * 24 * time.Hour
	c.Reconcile.FillsLookback = time.Minute
	c.Exchanges.OKX.BaseURL = "https://www.okx.com"
	c.Exchanges.MEXC.BaseURL = "https://contract.mexc.com"
	c.Tracing.Port = 6831
	c.Tracing.ServiceName = "trade-ledger"
	return c
}

// NewConfig читает configs/<CONFIG_FILE> поверх дефолтов, затем накладывает
// переменные окружения LEDGER_*. Файл необязателен.
func NewConfig() (*Config, error) {
	_ = godotenv.Load()

	config := defaults()

	configFileName := os.Getenv(configFilePathENV)
	if configFileName == "" {
		configFileName = "values_local.yaml"
	}
	dir := os.Getenv(configDirENV)
	if dir == "" {
		dir = "configs"
	}
	path := configFileName
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, configFileName)
	}

	if err := decodeFile(path, &config); err != nil {
		return nil, err
	}

	applyEnv(&config, newEnv())

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func decodeFile(path string, config *Config) error {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "open config file %s", path)
	}
	defer func() {
		_ = file.Close()
	}()

	if err := yaml.NewDecoder(file).Decode(config); err != nil {
		return errors.Wrapf(err, "decode config file %s", path)
	}
	return nil
}

func newEnv() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func applyEnv(c *Config, v *viper.Viper) {
	str := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v.IsSet(key) {
			if d := v.GetDuration(key); d > 0 {
				*dst = d
			}
		}
	}
	boolean := func(key string, dst *bool) {
		if v.IsSet(key) {
			*dst = v.GetBool(key)
		}
	}
	integer := func(key string, dst *int) {
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}

	str("service.host", &c.Service.Host)
	integer("service.admin_port", &c.Service.AdminPort)
	str("log.level", &c.Log.Level)
	boolean("log.development", &c.Log.Development)

	str("storage.driver", &c.Storage.Driver)
	str("storage.sqlite_path", &c.Storage.SQLitePath)
	str("storage.postgres_dsn", &c.Storage.PostgresDSN)

	dur("scheduler.interval", &c.Scheduler.Interval)
	dur("scheduler.pass_timeout", &c.Scheduler.PassTimeout)
	dur("scheduler.request_timeout", &c.Scheduler.RequestTimeout)

	boolean("evaluation.popups_enabled", &c.Evaluation.PopupsEnabled)

	integer("reconcile.max_close_retries", &c.Reconcile.MaxCloseRetries)
	dur("reconcile.max_close_age", &c.Reconcile.MaxCloseAge)
	dur("reconcile.fills_lookback", &c.Reconcile.FillsLookback)

	for name, ex := range map[string]*ExchangeConfig{"okx": &c.Exchanges.OKX, "mexc": &c.Exchanges.MEXC} {
		prefix := "exchanges." + name + "."
		boolean(prefix+"enabled", &ex.Enabled)
		str(prefix+"base_url", &ex.BaseURL)
		str(prefix+"api_key", &ex.APIKey)
		str(prefix+"api_secret", &ex.APISecret)
		str(prefix+"passphrase", &ex.Passphrase)
	}

	str("vault.passphrase", &c.Vault.Passphrase)

	str("telegram.token", &c.Telegram.Token)
	if v.IsSet("telegram.chat_id") {
		c.Telegram.ChatID = v.GetInt64("telegram.chat_id")
	}

	boolean("tracing.enabled", &c.Tracing.Enabled)
	str("tracing.host", &c.Tracing.Host)
	integer("tracing.port", &c.Tracing.Port)
	str("tracing.service_name", &c.Tracing.ServiceName)
}

// Validate ...
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case StorageSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path is required for sqlite driver")
		}
	case StoragePostgres:
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgres_dsn is required for postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be positive")
	}
	if c.Scheduler.PassTimeout <= 0 || c.Scheduler.RequestTimeout <= 0 {
		return fmt.Errorf("scheduler timeouts must be positive")
	}
	if c.Reconcile.MaxCloseRetries <= 0 {
		return fmt.Errorf("reconcile.max_close_retries must be positive")
	}
	if c.Exchanges.OKX.Enabled {
		if c.Exchanges.OKX.APIKey == "" || c.Exchanges.OKX.APISecret == "" || c.Exchanges.OKX.Passphrase == "" {
			return fmt.Errorf("exchanges.okx: api_key, api_secret and passphrase are required")
		}
	}
	if c.Exchanges.MEXC.Enabled {
		if c.Exchanges.MEXC.APIKey == "" || c.Exchanges.MEXC.APISecret == "" {
			return fmt.Errorf("exchanges.mexc: api_key and api_secret are required")
		}
	}
	return nil
}
