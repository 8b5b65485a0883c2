// Package config is the CLI's user-facing configuration, mirroring
// the teacher's cmd/portal/config package: a viper-backed YAML file
// under the user's home directory, reflected to/from a plain struct
// with github.com/fatih/structs so the file can be round-tripped
// without hand-written marshaling.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/structs"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

const (
	ConfigsDirName = ".config"
	AppConfigDir   = "qs"
	ConfigFileName = "config"
	ConfigFileExt  = "yml"
)

// Config is the full set of user-facing options, persisted as YAML.
type Config struct {
	Rendezvous           string `mapstructure:"rendezvous"`
	Verbose              bool   `mapstructure:"verbose"`
	PromptOverwriteFiles bool   `mapstructure:"prompt_overwrite_files"`
	Concurrency          int    `mapstructure:"concurrency"`
}

// GetDefault returns the configuration shipped as the default for a
// freshly created config file.
func GetDefault() Config {
	return Config{
		Rendezvous:           "127.0.0.1:7465",
		Verbose:              false,
		PromptOverwriteFiles: true,
		Concurrency:          6,
	}
}

func (c Config) Map() map[string]any {
	m := map[string]any{}
	for _, field := range structs.Fields(c) {
		m[field.Tag("mapstructure")] = field.Value()
	}
	return m
}

func (c Config) Yaml() []byte {
	var b strings.Builder
	for k, v := range c.Map() {
		fmt.Fprintf(&b, "%s: %v\n", k, v)
	}
	return []byte(b.String())
}

// Init sets up viper to read (and, on first run, create) the config
// file at $HOME/.config/qs/config.yml (the teacher's
// cmd/portal/config.Init, renamed for this project).
func Init() error {
	home, err := homedir.Dir()
	if err != nil {
		return fmt.Errorf("resolving home dir: %w", err)
	}

	configPath := filepath.Join(home, ConfigsDirName, AppConfigDir)
	viper.AddConfigPath(configPath)
	viper.SetConfigName(ConfigFileName)
	viper.SetConfigType(ConfigFileExt)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			if err := os.MkdirAll(configPath, 0o755); err != nil {
				return fmt.Errorf("creating config directory: %w", err)
			}
			full := filepath.Join(configPath, fmt.Sprintf("%s.%s", ConfigFileName, ConfigFileExt))
			if err := os.WriteFile(full, GetDefault().Yaml(), 0o644); err != nil {
				return fmt.Errorf("writing default config file: %w", err)
			}
		} else {
			return fmt.Errorf("reading config file: %w", err)
		}
	}
	for k, v := range GetDefault().Map() {
		viper.SetDefault(k, v)
	}
	return nil
}
