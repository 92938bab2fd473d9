package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/drone/envsubst"
	"gopkg.in/yaml.v2"
)

const defaultAddress = ":4001"

type Config struct {
	Server struct {
		Address        string   `yaml:"address"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	AMQP struct {
		URL string `yaml:"url"`
	} `yaml:"amqp"`
	Firebase struct {
		CredentialsFile string `yaml:"credentials_file"`
	} `yaml:"firebase"`
	DGIS struct {
		APIKey   string   `yaml:"api_key"`
		RegionID string   `yaml:"region_id"`
		Locales  []string `yaml:"locales"`
	} `yaml:"dgis"`
}

// LoadConfig reads the YAML file at path after expanding ${VAR} and
// ${VAR:-default} references from the environment. An empty path yields
// the defaults, which run everything in memory.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		expanded, err := envsubst.EvalEnv(string(data))
		if err != nil {
			return Config{}, fmt.Errorf("expand config file: %w", err)
		}
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return Config{}, fmt.Errorf("unmarshal config data: %w", err)
		}
	}

	if strings.TrimSpace(cfg.Server.Address) == "" {
		cfg.Server.Address = defaultAddress
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	}
	if cfg.Redis.DB < 0 {
		return Config{}, fmt.Errorf("redis db must not be negative")
	}
	return cfg, nil
}
