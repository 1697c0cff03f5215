package config

import (
	"os"

	"github.com/goccy/go-yaml"
	"github.com/kcartbot/knowledge-engine/errors"
)

// Config is the full configuration tree for the knowledge engine.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
	Server    ServerConfig    `yaml:"server"`
}

func NewConfig() *Config {
	return &Config{
		Log:       *NewLogConfig(),
		Knowledge: *NewKnowledgeConfig(),
		Server:    *NewServerConfig(),
	}
}

// Load builds a Config from defaults, an optional YAML file, and environment
// variables, in that order of precedence.
func Load(path string) (*Config, error) {
	conf := NewConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read config file: %s", path)
		}
		if err := yaml.Unmarshal(data, conf); err != nil {
			return nil, errors.Wrapf(err, "failed to unmarshal config file: %s", path)
		}
	}

	conf.applyEnv()

	return conf, nil
}

func (c *Config) applyEnv() {
	setFromEnv(&c.Log.LogLevel, "LOG_LEVEL")
	setFromEnv(&c.Log.LogHandler, "LOG_HANDLER")
	setFromEnv(&c.Knowledge.StorePath, "KCART_STORE_PATH")
	setFromEnv(&c.Knowledge.IndexDir, "KCART_INDEX_DIR")
	setFromEnv(&c.Knowledge.Embedder, "KCART_EMBEDDER")
	setFromEnv(&c.Knowledge.NomicAPIKey, "NOMIC_API_KEY")
	setFromEnv(&c.Knowledge.OpenAIAPIKey, "OPENAI_API_KEY")
}

func setFromEnv(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}
