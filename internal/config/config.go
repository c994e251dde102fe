// Package config defines blitze's runtime configuration and binds it to
// cobra flags plus an optional viper-loaded YAML file.
package config

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds every value blitze needs to start, whether it came from a
// flag or a --config-file. Environment variables are not read.
type Config struct {
	InputFolder string `mapstructure:"input-folder"`
	MountPoint  string `mapstructure:"mount-point"`

	DBPath      string `mapstructure:"db-path"`
	CacheDir    string `mapstructure:"cache-dir"`
	TCPAddr     string `mapstructure:"tcp-addr"`
	MetricsAddr string `mapstructure:"metrics-addr"`

	OnlyTCP  bool `mapstructure:"only-tcp"`
	OnlyFUSE bool `mapstructure:"only-fuse"`

	LogFormat   string `mapstructure:"log-format"`
	LogSeverity string `mapstructure:"log-severity"`
	LogFile     string `mapstructure:"log-file"`
}

// Default returns a Config carrying blitze's documented defaults, applied
// before any flag or config file can override them.
func Default() Config {
	return Config{
		DBPath:      "/var/db/blitze",
		CacheDir:    "/tmp",
		TCPAddr:     ":8964",
		LogFormat:   "json",
		LogSeverity: "INFO",
	}
}

// BindFlags registers every Config flag on fs and binds it into viper, so
// that Unmarshal (called after cobra parses argv and an optional
// --config-file is read) reflects flags and file in the order viper
// defines.
func BindFlags(fs *pflag.FlagSet) error {
	d := Default()

	fs.String("db-path", d.DBPath, "path to the bbolt index file")
	fs.String("cache-dir", d.CacheDir, "directory for materialized archive members")
	fs.String("tcp-addr", d.TCPAddr, "address for the line-protocol TCP query surface")
	fs.String("metrics-addr", d.MetricsAddr, "address for the Prometheus metrics listener; empty disables it")
	fs.Bool("only-tcp", false, "serve only the TCP query surface, skip the FUSE mount")
	fs.Bool("only-fuse", false, "serve only the FUSE mount, skip the TCP query surface")
	fs.String("log-format", d.LogFormat, "log output format: text or json")
	fs.String("log-severity", d.LogSeverity, "minimum log severity: TRACE, DEBUG, INFO, WARNING, ERROR, OFF")
	fs.String("log-file", "", "path to a log file; empty logs to stderr")

	return viper.BindPFlags(fs)
}

// Load reads argv-bound flags (already bound via BindFlags) and, if
// cfgFile is non-empty, overlays a YAML file on top before unmarshalling
// into a Config. input and mountPoint come from positional arguments,
// which viper does not see.
func Load(cfgFile, input, mountPoint string) (Config, error) {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		viper.SetConfigType("yaml")
		if err := viper.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: reading %s: %w", cfgFile, err)
		}
	}

	cfg := Default()
	if err := viper.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}

	cfg.InputFolder = input
	cfg.MountPoint = mountPoint
	return cfg, cfg.Validate()
}

// Validate rejects configurations that would leave blitze serving nothing.
func (c Config) Validate() error {
	if c.OnlyTCP && c.OnlyFUSE {
		return fmt.Errorf("config: --only-tcp and --only-fuse are mutually exclusive")
	}
	if c.InputFolder == "" {
		return fmt.Errorf("config: input folder is required")
	}
	if !c.OnlyTCP && c.MountPoint == "" {
		return fmt.Errorf("config: mount point is required unless --only-tcp is set")
	}
	return nil
}
