package config

import (
	"fmt"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/streamgate/streamgate/media"
	"github.com/streamgate/streamgate/media/encoder"
)

// Encoder is the configuration for a media.Encoder.
type Encoder struct {
	Type   string
	Config EncoderFactory
}

func (c *Encoder) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig rawConfig

	err := value.Decode(&rawConfig)
	if err != nil {
		return err
	}

	var config EncoderFactory

	switch rawConfig.Type {
	case "ffmpeg":
		var factory ffmpegEncoder

		err := decode(rawConfig.Config, &factory)
		if err != nil {
			return err
		}

		config = factory

	default:
		return fmt.Errorf("unknown encoder type: %s", rawConfig.Type)
	}

	c.Type = rawConfig.Type
	c.Config = config

	return nil
}

// EncoderFactory creates a new media.Encoder.
type EncoderFactory interface {
	CreateEncoder(logger *zap.Logger) (media.Encoder, error)
	Validate() error
}

type ffmpegEncoder struct {
	Binary         string `mapstructure:"binary"`
	SegmentSeconds int    `mapstructure:"segmentSeconds"`
}

func (c ffmpegEncoder) CreateEncoder(logger *zap.Logger) (media.Encoder, error) {
	return encoder.FFmpeg{
		Binary:         c.Binary,
		SegmentSeconds: c.SegmentSeconds,
		Logger:         logger.Named("encoder"),
	}, nil
}

func (c ffmpegEncoder) Validate() error {
	if c.SegmentSeconds < 0 {
		return fmt.Errorf("encoder: ffmpeg: segmentSeconds must not be negative")
	}

	return nil
}
