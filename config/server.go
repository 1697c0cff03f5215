package config

type ServerConfig struct {
	// Port the HTTP search API listens on.
	Port int `yaml:"port" json:"port,omitempty"`
}

func NewServerConfig() *ServerConfig {
	return &ServerConfig{
		Port: 3001,
	}
}
