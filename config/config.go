// Package config loads the server configuration from a YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Environment variables overriding the token section.
const (
	SecretKeyEnv = "SECRET_KEY"
	AlgorithmEnv = "ALGORITHM"
)

// Config collects all configuration options.
type Config struct {
	Server  Server  `yaml:"server"`
	Token   Token   `yaml:"token"`
	Media   Media   `yaml:"media"`
	Encoder Encoder `yaml:"encoder"`
	Store   Store   `yaml:"store"`
	Janitor Janitor `yaml:"janitor"`
}

// Server configures the HTTP listener.
type Server struct {
	Addr string `yaml:"addr"`

	// PublicURL is the base of returned playlist URLs. Derived from each request when empty.
	PublicURL string `yaml:"publicURL"`

	// UploadRateLimit is the number of uploads accepted per client IP and minute. Zero disables the limit.
	UploadRateLimit int `yaml:"uploadRateLimit"`

	MaxUploadBytes int64 `yaml:"maxUploadBytes"`
}

// Token configures the token codec.
type Token struct {
	// Secret is the master secret. A random one is generated when empty.
	Secret    string `yaml:"secret"`
	Algorithm string `yaml:"algorithm"`
}

// Media configures where encoded media is stored.
type Media struct {
	Root string `yaml:"root"`
}

// Janitor configures the periodic removal of expired media.
type Janitor struct {
	// Interval between runs. Zero disables the janitor.
	Interval time.Duration `yaml:"interval"`
}

// Default returns the configuration used for omitted options.
func Default() Config {
	return Config{
		Server: Server{
			Addr:            ":8000",
			UploadRateLimit: 10,
			MaxUploadBytes:  2 << 30,
		},
		Token: Token{
			Algorithm: "HS256",
		},
		Media: Media{
			Root: "media/hls",
		},
		Encoder: Encoder{
			Type:   "ffmpeg",
			Config: ffmpegEncoder{},
		},
		Store: Store{
			Type:   "file",
			Config: fileStore{Path: "video_database.json"},
		},
	}
}

// Load reads the configuration file at path (if any) on top of the defaults,
// then applies the environment overrides.
func Load(path string) (Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}

		if err := yaml.Unmarshal(data, &config); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	config.applyEnv(os.LookupEnv)

	return config, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(SecretKeyEnv); ok && v != "" {
		c.Token.Secret = v
	}

	if v, ok := lookup(AlgorithmEnv); ok && v != "" {
		c.Token.Algorithm = v
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server: addr is required")
	}

	if c.Server.UploadRateLimit < 0 {
		return errors.New("server: uploadRateLimit must not be negative")
	}

	if c.Server.MaxUploadBytes < 0 {
		return errors.New("server: maxUploadBytes must not be negative")
	}

	switch c.Token.Algorithm {
	case "HS256", "HS384", "HS512":
	default:
		return fmt.Errorf("token: unsupported algorithm %q", c.Token.Algorithm)
	}

	if c.Media.Root == "" {
		return errors.New("media: root is required")
	}

	if c.Encoder.Type == "" || c.Encoder.Config == nil {
		return errors.New("encoder type is required")
	}

	if err := c.Encoder.Config.Validate(); err != nil {
		return err
	}

	if c.Store.Type == "" || c.Store.Config == nil {
		return errors.New("store type is required")
	}

	if err := c.Store.Config.Validate(); err != nil {
		return err
	}

	if c.Janitor.Interval < 0 {
		return errors.New("janitor: interval must not be negative")
	}

	return nil
}

// rawConfig is a general struct to be used by other config structs to unmarshal yaml config first.
type rawConfig struct {
	Type   string                 `yaml:"type"`
	Config map[string]interface{} `yaml:"config"`
}

// decode decodes the free-form config section of a rawConfig into a factory.
func decode(input map[string]interface{}, output interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:  mapstructure.StringToTimeDurationHookFunc(),
		ErrorUnused: true,
		Result:      output,
	})
	if err != nil {
		return err
	}

	return decoder.Decode(input)
}
