package configflags

import (
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	v1 "github.com/propwise/chatsync/pkg/apis/config/v1"
	"github.com/propwise/chatsync/pkg/sessionstate"
)

// ConfigFlags holds the location of the chatsync configuration file.
type ConfigFlags struct {
	Path string
}

func NewConfigFlags() *ConfigFlags {
	return &ConfigFlags{}
}

func (f *ConfigFlags) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&f.Path,
		"config",
		f.Path,
		"Configuration file for chatsync (location aliases, API URL overrides)")
}

func (f *ConfigFlags) GetConfig() (*v1.ChatsyncConfig, error) {
	var config v1.ChatsyncConfig

	if f.Path != "" {
		data, err := os.ReadFile(f.Path)
		if err != nil {
			return nil, errors.WithMessage(err, "could not load config")
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, errors.WithMessage(err, "couldn't unmarshal config")
		}
	}

	// File entries extend the built-in alias table rather than replace it.
	aliases := map[string]string{}
	for k, v := range sessionstate.DefaultLocationAliases {
		aliases[k] = v
	}
	for k, v := range config.LocationAliases {
		aliases[k] = v
	}
	config.LocationAliases = aliases

	return &config, nil
}
