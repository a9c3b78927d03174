package configuration

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// DefaultConfig Load minimum working configuration to allow
// service start without user provided one
func DefaultConfig() *Config {
	c := Config{}
	if err := yaml.Unmarshal(defaultConfig, &c); err != nil {
		panic(err.Error())
	}

	return &c
}

// ParseConfig merge yaml document over default config
func ParseConfig(data []byte) (*Config, error) {
	c := DefaultConfig()

	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, errors.Wrap(err, "config")
	}

	return c, nil
}

// ReadConfig read service configuration
// empty file means default config
func ReadConfig(file string) (*Config, error) {
	log := GetLogger()
	log.Info("loading config")

	if len(file) == 0 {
		log.Infof("no config file provided. use --config option or %s environment variable to provide own", EnvConfigFile)
		log.Debug("default config: \n", string(defaultConfig))
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return nil, errors.Wrapf(err, "config: %s", file)
	}

	return ParseConfig(data)
}
