package config

type Config struct {
	EnvConfig *EnvConfig
	Monitor   MonitorConfig
}

func NewConfig() *Config {
	return &Config{
		EnvConfig: LoadEnvConfig(),
		Monitor:   LoadMonitorConfig(),
	}
}
