package config

type LogConfig struct {
	LogLevel   string `yaml:"logLevel" json:"logLevel,omitempty"`
	LogHandler string `yaml:"logHandler" json:"logHandler,omitempty"`
}

func NewLogConfig() *LogConfig {
	return &LogConfig{
		LogLevel:   "info",
		LogHandler: "default",
	}
}
