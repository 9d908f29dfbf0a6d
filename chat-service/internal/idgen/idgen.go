// Package idgen produces client-side ids for messages and stored objects.
// Ids are assigned before the insert so an optimistic message and its
// persisted row share identity.
package idgen

import (
	"fmt"
)

// Generator produces and checks ids of one strategy.
type Generator interface {
	Generate() (string, error)
	Validate(id string) error
}

// Strategy names.
const (
	StrategyUUID      = "uuid"
	StrategyULID      = "ulid"
	StrategyKSUID     = "ksuid"
	StrategyNanoID    = "nanoid"
	StrategyCUID2     = "cuid2"
	StrategySnowflake = "snowflake"
)

// Config selects a strategy and its options.
type Config struct {
	Strategy  string          `mapstructure:"strategy"`
	Snowflake SnowflakeConfig `mapstructure:"snowflake"`
	NanoID    NanoIDConfig    `mapstructure:"nanoid"`
	CUID2     CUID2Config     `mapstructure:"cuid2"`
}

type SnowflakeConfig struct {
	MachineID int64 `mapstructure:"machine_id"`
	Epoch     int64 `mapstructure:"epoch"`
}

type NanoIDConfig struct {
	Size     int    `mapstructure:"size"`
	Alphabet string `mapstructure:"alphabet"`
}

type CUID2Config struct {
	Length int `mapstructure:"length"`
}

// New builds the generator named by cfg.Strategy. An empty strategy means uuid.
func New(cfg Config) (Generator, error) {
	switch cfg.Strategy {
	case StrategyUUID, "":
		return UUID{}, nil
	case StrategyULID:
		return ULID{}, nil
	case StrategyKSUID:
		return KSUID{}, nil
	case StrategyNanoID:
		size, alphabet := cfg.NanoID.Size, cfg.NanoID.Alphabet
		if size == 0 {
			size = DefaultNanoIDSize
		}
		if alphabet == "" {
			alphabet = DefaultNanoIDAlphabet
		}
		return NewNanoID(size, alphabet)
	case StrategyCUID2:
		length := cfg.CUID2.Length
		if length == 0 {
			length = DefaultCUID2Length
		}
		return NewCUID2(length)
	case StrategySnowflake:
		return NewSnowflake(cfg.Snowflake.MachineID, cfg.Snowflake.Epoch)
	default:
		return nil, fmt.Errorf("unknown id strategy %q", cfg.Strategy)
	}
}

// MustGenerate panics if g fails. Only the snowflake generator can fail in
// practice, and only when the clock runs backwards.
func MustGenerate(g Generator) string {
	id, err := g.Generate()
	if err != nil {
		panic(err)
	}
	return id
}
