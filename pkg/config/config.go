package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"os/user"
	"path"

	"gopkg.in/yaml.v2"
)

const (
	configDir  string = ".erspd"
	configFile string = "config.yml"
)

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Aliases maps a canonical monitor command name to additional names
	// it should also answer to over qRcmd.
	Aliases map[string][]string `yaml:"aliases"`

	// ListenAddr overrides the --listen flag's default when set.
	ListenAddr string `yaml:"listen-addr,omitempty"`

	// HaltOnAttach overrides the --halt-on-attach flag's default.
	HaltOnAttach bool `yaml:"halt-on-attach"`

	// TTYOut overrides the --tty-out flag's default when set.
	TTYOut string `yaml:"tty-out,omitempty"`

	// LogFlags overrides the --log-flags flag's default when set.
	LogFlags string `yaml:"log-flags,omitempty"`

	// Rows and Cols size the built in mesh simulator when no real
	// target is wired in.
	Rows int `yaml:"rows,omitempty"`
	Cols int `yaml:"cols,omitempty"`
}

// LoadConfig attempts to populate a Config object from the config.yml file.
func LoadConfig() *Config {
	err := createConfigPath()
	if err != nil {
		fmt.Printf("Could not create config directory: %v.", err)
		return &Config{}
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		fmt.Printf("Unable to get config file path: %v.", err)
		return &Config{}
	}

	f, err := os.Open(fullConfigFile)
	if err != nil {
		f, err = createDefaultConfig(fullConfigFile)
		if err != nil {
			fmt.Printf("Error creating default config file: %v", err)
			return &Config{}
		}
	}
	defer func() {
		err := f.Close()
		if err != nil {
			fmt.Printf("Closing config file failed: %v.", err)
		}
	}()

	data, err := ioutil.ReadAll(f)
	if err != nil {
		fmt.Printf("Unable to read config data: %v.", err)
		return &Config{}
	}

	var c Config
	err = yaml.Unmarshal(data, &c)
	if err != nil {
		fmt.Printf("Unable to decode config file: %v.", err)
		return &Config{}
	}

	return &c
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	f, err := os.Create(fullConfigFile)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(out)
	return err
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	err = writeDefaultConfig(f)
	if err != nil {
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	return f, nil
}

func writeDefaultConfig(f *os.File) error {
	_, err := f.WriteString(
		`# Configuration file for erspd.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item. Command-line flags always
# take precedence over values set here.

# Additional names existing monitor commands should also answer to over qRcmd.
aliases:
  # halt: ["stop"]

# listen-addr: ":51000"
# halt-on-attach: true
# tty-out: pty
# log-flags: wire,stop-resume

# Mesh simulator size used when no real target is wired in.
# rows: 4
# cols: 4
`)
	return err
}

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {

	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return path.Join(userHomeDir, configDir, file), nil
}
