package config

import (
	"fmt"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/streamgate/streamgate/media"
	"github.com/streamgate/streamgate/media/store/file"
	"github.com/streamgate/streamgate/media/store/memory"
	"github.com/streamgate/streamgate/media/store/sqlite"
)

// Store is the configuration for a media.Store.
type Store struct {
	Type   string
	Config StoreFactory
}

func (c *Store) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig rawConfig

	err := value.Decode(&rawConfig)
	if err != nil {
		return err
	}

	var config StoreFactory

	switch rawConfig.Type {
	case "file":
		var factory fileStore

		err := decode(rawConfig.Config, &factory)
		if err != nil {
			return err
		}

		config = factory

	case "sqlite":
		var factory sqliteStore

		err := decode(rawConfig.Config, &factory)
		if err != nil {
			return err
		}

		config = factory

	case "memory":
		config = memoryStore{}

	default:
		return fmt.Errorf("unknown store type: %s", rawConfig.Type)
	}

	c.Type = rawConfig.Type
	c.Config = config

	return nil
}

// StoreFactory creates a new media.Store.
type StoreFactory interface {
	CreateStore(logger *zap.Logger) (media.Store, error)
	Validate() error
}

type fileStore struct {
	Path string `mapstructure:"path"`
}

func (c fileStore) CreateStore(logger *zap.Logger) (media.Store, error) {
	return file.NewStore(c.Path, logger.Named("store"))
}

func (c fileStore) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("store: file: path is required")
	}

	return nil
}

type sqliteStore struct {
	// Path of the database file. An in-memory database is used when empty.
	Path string `mapstructure:"path"`
}

func (c sqliteStore) CreateStore(_ *zap.Logger) (media.Store, error) {
	return sqlite.NewStore(c.Path)
}

func (c sqliteStore) Validate() error {
	return nil
}

type memoryStore struct{}

func (memoryStore) CreateStore(_ *zap.Logger) (media.Store, error) {
	return &memory.Store{}, nil
}

func (memoryStore) Validate() error {
	return nil
}
