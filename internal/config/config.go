package config

import (
	"fmt"
	"log"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	DocumentsNone       = "none"
	DocumentsDirect     = "direct"
	DocumentsAccounting = "accounting"
)

type Shop struct {
	Name    string `yaml:"name"`
	Source  string `yaml:"source"`
	Enabled bool   `yaml:"enabled"`
	BaseUrl string `yaml:"base_url"`
	Token   string `yaml:"token"`
	// Horoshop authenticates with login and password
	Login      string  `yaml:"login"`
	Password   string  `yaml:"password"`
	Silent     bool    `yaml:"silent"`
	Recipients []int64 `yaml:"recipients"`
	Documents  string  `yaml:"documents"`
	RateLimit  float64 `yaml:"rate_limit"`
	Burst      int     `yaml:"burst"`
}

type Config struct {
	Env string `yaml:"env" env-default:"local" env-required:"true"`
	// with sql disabled the ledger is kept in memory: pending work only, lost on restart
	SQL struct {
		Enabled  bool   `yaml:"enabled" env-default:"false"`
		Driver   string `yaml:"driver" env-default:"mysql"`
		HostName string `yaml:"hostname" env-default:"localhost"`
		UserName string `yaml:"username" env-default:"root"`
		Password string `yaml:"password" env-default:""`
		Database string `yaml:"database" env-default:""`
		Port     string `yaml:"port" env-default:"3306"`
		Prefix   string `yaml:"prefix" env-default:""`
	} `yaml:"sql"`
	Mongo struct {
		Enabled     bool   `yaml:"enabled" env-default:"false"`
		Host        string `yaml:"host" env-default:"127.0.0.1"`
		Port        string `yaml:"port" env-default:"27017"`
		User        string `yaml:"user" env-default:""`
		Password    string `yaml:"password" env-default:""`
		Database    string `yaml:"database" env-default:"ordersync"`
		ExpiredDays int    `yaml:"expired_days" env-default:"90"`
	} `yaml:"mongo"`
	Telegram struct {
		Enabled bool   `yaml:"enabled" env-default:"false"`
		BotName string `yaml:"bot_name" env-default:""`
		ApiKey  string `yaml:"api_key" env-default:""`
		AdminId string `yaml:"admin_id" env-default:""`
	} `yaml:"telegram"`
	Listen struct {
		Enabled bool   `yaml:"enabled" env-default:"false"`
		BindIP  string `yaml:"bind_ip" env-default:"127.0.0.1"`
		Port    string `yaml:"port" env-default:"8080"`
		ApiKey  string `yaml:"api_key" env-default:""`
	} `yaml:"listen"`
	Poll struct {
		Interval       time.Duration `yaml:"interval" env-default:"5m"`
		Window         time.Duration `yaml:"window" env-default:"30m"`
		StartJitter    time.Duration `yaml:"start_jitter" env-default:"30s"`
		FetchTimeout   time.Duration `yaml:"fetch_timeout" env-default:"30s"`
		RetryBudget    time.Duration `yaml:"retry_budget" env-default:"2m"`
		MaxBatch       int           `yaml:"max_batch" env-default:"500"`
		MaxOrderAge    time.Duration `yaml:"max_order_age" env-default:"0s"`
		RedeliverAfter time.Duration `yaml:"redeliver_after" env-default:"10m"`
	} `yaml:"poll"`
	Outbox struct {
		ProcessingDir string `yaml:"processing_dir" env-default:"outbox/processing"`
		ArchiveDir    string `yaml:"archive_dir" env-default:"outbox/archive"`
	} `yaml:"outbox"`
	Phone struct {
		DefaultCountry string `yaml:"default_country" env-default:"UA"`
	} `yaml:"phone"`
	Notify struct {
		Managers []int64 `yaml:"managers"`
		Finance  []int64 `yaml:"finance"`
		Currency string  `yaml:"currency" env-default:"грн."`
	} `yaml:"notify"`
	Accounting struct {
		Managers     map[int]string `yaml:"managers"`
		Payments     map[int]string `yaml:"payments"`
		CardPayments []string       `yaml:"card_payments"`
		Shops        map[int]string `yaml:"shops"`
		// supplier name of commission documents, %s is the shop
		SupplierFormat string `yaml:"supplier_format" env-default:"Просейл %s"`
		Manager        string `yaml:"manager" env-default:"Финансист"`
	} `yaml:"accounting"`
	Shops []Shop `yaml:"shops"`
}

// Load reads the YAML file with env overrides and fills the shop defaults.
func Load(path string) (*Config, error) {
	conf := &Config{}
	if err := cleanenv.ReadConfig(path, conf); err != nil {
		desc, _ := cleanenv.GetDescription(conf, nil)
		return nil, fmt.Errorf("%s; %s", err, desc)
	}
	if err := conf.applyShopDefaults(); err != nil {
		return nil, err
	}
	return conf, nil
}

func MustLoad(path string) *Config {
	conf, err := Load(path)
	if err != nil {
		log.Fatal(err)
	}
	return conf
}

func (c *Config) applyShopDefaults() error {
	names := make(map[string]bool, len(c.Shops))
	for i := range c.Shops {
		shop := &c.Shops[i]
		if shop.Name == "" {
			return fmt.Errorf("shop %d: name is required", i)
		}
		if names[shop.Name] {
			return fmt.Errorf("shop %s: duplicate name", shop.Name)
		}
		names[shop.Name] = true

		switch shop.Source {
		case "prom", "horoshop", "keycrm":
		default:
			return fmt.Errorf("shop %s: unknown source %q", shop.Name, shop.Source)
		}
		switch shop.Documents {
		case "":
			shop.Documents = DocumentsNone
		case DocumentsNone, DocumentsDirect, DocumentsAccounting:
		default:
			return fmt.Errorf("shop %s: unknown documents mode %q", shop.Name, shop.Documents)
		}
		if shop.RateLimit <= 0 {
			shop.RateLimit = 1
		}
		if shop.Burst <= 0 {
			shop.Burst = 1
		}
	}
	return nil
}

// EnabledShops returns the shops with polling switched on.
func (c *Config) EnabledShops() []Shop {
	var shops []Shop
	for _, s := range c.Shops {
		if s.Enabled {
			shops = append(shops, s)
		}
	}
	return shops
}
