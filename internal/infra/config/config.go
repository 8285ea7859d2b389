// Package config provides configuration loading from YAML files.
package config

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/hverbeek/setlist/internal/app/recommend"
	"github.com/hverbeek/setlist/internal/infra/logger"
)

// Config represents the application configuration.
type Config struct {
	Logging logger.Config `yaml:"logging"`
	Session SessionConfig `yaml:"session"`
	AutoDJ  AutoDJConfig  `yaml:"autodj"`
	Player  PlayerConfig  `yaml:"player"`
	Storage StorageConfig `yaml:"storage"`
}

// SessionConfig represents session-related configuration.
type SessionConfig struct {
	// EndTime is the planned end of the session as a "HH:MM" wall-clock
	// time. Empty disables overrun warnings.
	EndTime string `yaml:"end_time" validate:"omitempty,datetime=15:04"`
}

// AutoDJConfig represents the recommendation engine configuration.
type AutoDJConfig struct {
	Enabled bool             `yaml:"enabled" default:"true"`
	Params  recommend.Params `yaml:"params"`
}

// PlayerConfig represents playback driver configuration.
type PlayerConfig struct {
	SilenceSec   float64 `yaml:"silence_sec" default:"2" validate:"gte=0"`
	FadeoutSec   float64 `yaml:"fadeout_sec" default:"2" validate:"gte=0"`
	VolumeTickMs int     `yaml:"volume_tick_ms" default:"50" validate:"gte=10"`
}

// StorageConfig represents the track database configuration.
type StorageConfig struct {
	Path string `yaml:"path" default:"setlist.db"`
	// PersistEnvelopes keeps volume waypoints across restarts. When off,
	// envelopes are session-scoped.
	PersistEnvelopes bool `yaml:"persist_envelopes" default:"true"`
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults. Defaults are applied before the file is parsed so an explicit
// false or zero in the file is honored rather than overwritten.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Defaults only.
	case err != nil:
		return nil, errors.Wrap(err, "failed to read config file")
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, errors.Wrap(err, "failed to parse config file")
		}
	}

	cfg.overrideFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}
	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("SETLIST_DB_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("SETLIST_END_TIME"); v != "" {
		c.Session.EndTime = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}
	return nil
}

// DecodeParams decodes recommender parameters from a free-form settings
// map, as stored in the preferences table. Defaults are applied before
// decoding so an explicit zero in the map disables the weight instead of
// falling back to the default.
func DecodeParams(settings map[string]any) (recommend.Params, error) {
	var params recommend.Params
	if err := defaults.Set(&params); err != nil {
		return params, errors.Wrap(err, "failed to set defaults")
	}

	// ZeroFields keeps a shorter cadence in the map from merging with the
	// default cadence's trailing elements.
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &params,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		ZeroFields:       true,
	})
	if err != nil {
		return params, errors.Wrap(err, "failed to create decoder")
	}
	if err := decoder.Decode(settings); err != nil {
		return params, errors.Wrap(err, "failed to decode parameters")
	}
	if err := validator.New().Struct(params); err != nil {
		return params, errors.Wrap(err, "parameter validation failed")
	}
	return params, nil
}
