// ABOUTME: Player configuration backed by viper
// ABOUTME: Defaults, config file and KANTERA_ environment loading, and validation
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/kantera-live/kantera-player/internal/logging"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to environment variable names (KANTERA_URL, ...)
const EnvPrefix = "kantera"

// Config is the resolved player configuration
type Config struct {
	URL          string
	Discover     bool
	Output       string
	SampleRate   int
	Period       int
	Volume       int
	FramesDir    string
	Script       string
	MetricsAddr  string
	LogLevel     string
	LogFile      string
	TUI          bool
	ReadTimeout  time.Duration
	CloseTimeout time.Duration
}

// SetDefaults registers every key's default value
func SetDefaults(v *viper.Viper) {
	v.SetDefault("url", "")
	v.SetDefault("discover", false)
	v.SetDefault("output", "oto")
	v.SetDefault("samplerate", 48000)
	v.SetDefault("period", 512)
	v.SetDefault("volume", 100)
	v.SetDefault("frames.dir", "")
	v.SetDefault("script", "")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "kantera-player.log")
	v.SetDefault("tui", true)
	v.SetDefault("read_timeout", 30*time.Second)
	v.SetDefault("close_timeout", 2*time.Second)
}

// Load reads the optional config file and the environment into v. An
// empty path searches the working directory and $HOME/.config/kantera
// for kantera.yaml; a missing file is not an error.
func Load(v *viper.Viper, path string) error {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("kantera")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/kantera")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
		log.Debug("No config file found")
		return nil
	}

	log.Debug("Using configuration file", "path", v.ConfigFileUsed())
	return nil
}

// FromViper resolves and validates the configuration held by v
func FromViper(v *viper.Viper) (Config, error) {
	c := Config{
		URL:          v.GetString("url"),
		Discover:     v.GetBool("discover"),
		Output:       v.GetString("output"),
		SampleRate:   v.GetInt("samplerate"),
		Period:       v.GetInt("period"),
		Volume:       v.GetInt("volume"),
		FramesDir:    v.GetString("frames.dir"),
		Script:       v.GetString("script"),
		MetricsAddr:  v.GetString("metrics.addr"),
		LogLevel:     v.GetString("log.level"),
		LogFile:      v.GetString("log.file"),
		TUI:          v.GetBool("tui"),
		ReadTimeout:  v.GetDuration("read_timeout"),
		CloseTimeout: v.GetDuration("close_timeout"),
	}

	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate reports the first invalid setting
func (c Config) Validate() error {
	switch c.Output {
	case "oto", "malgo", "none":
	default:
		return fmt.Errorf("output must be oto, malgo or none, got %q", c.Output)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("samplerate must be positive, got %d", c.SampleRate)
	}
	if c.Period <= 0 {
		return fmt.Errorf("period must be positive, got %d", c.Period)
	}
	if c.Volume < 0 || c.Volume > 100 {
		return fmt.Errorf("volume must be between 0 and 100, got %d", c.Volume)
	}
	if _, _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.ReadTimeout < 0 || c.CloseTimeout < 0 {
		return errors.New("timeouts must not be negative")
	}
	if c.URL == "" && !c.Discover {
		return errors.New("no renderer configured: set url or enable discover")
	}
	return nil
}
