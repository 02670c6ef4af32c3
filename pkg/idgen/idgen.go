// Package idgen produces opaque string identifiers for messages, calls,
// notifications and connections.
package idgen

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/nrednav/cuid2"
	"github.com/oklog/ulid/v2"
	"github.com/segmentio/ksuid"
)

// Strategies understood by New.
const (
	StrategyULID   = "ulid"
	StrategyUUID   = "uuid"
	StrategyKSUID  = "ksuid"
	StrategyNanoID = "nanoid"
	StrategyCUID2  = "cuid2"
)

const (
	DefaultNanoIDSize     = 21
	DefaultNanoIDAlphabet = "_-0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	DefaultCUID2Length    = 24
)

// Generator creates unique identifiers.
type Generator interface {
	Generate() (string, error)
}

// Config selects a strategy and its parameters.
type Config struct {
	Strategy       string `mapstructure:"strategy"`
	NanoIDSize     int    `mapstructure:"nanoid_size"`
	NanoIDAlphabet string `mapstructure:"nanoid_alphabet"`
	CUID2Length    int    `mapstructure:"cuid2_length"`
}

// New returns the generator for cfg.Strategy. ULID is the default because
// its ids sort by creation time, which keeps message ids ordered.
func New(cfg Config) (Generator, error) {
	switch cfg.Strategy {
	case StrategyULID, "":
		return ULID{}, nil
	case StrategyUUID:
		return UUID{}, nil
	case StrategyKSUID:
		return KSUID{}, nil
	case StrategyNanoID:
		return NewNanoID(cfg.NanoIDSize, cfg.NanoIDAlphabet)
	case StrategyCUID2:
		return NewCUID2(cfg.CUID2Length)
	default:
		return nil, fmt.Errorf("unknown id strategy %q", cfg.Strategy)
	}
}

// MustGenerate panics when the generator fails. Only the entropy source can
// fail, which is not recoverable.
func MustGenerate(g Generator) string {
	id, err := g.Generate()
	if err != nil {
		panic(err)
	}
	return id
}

// ULID generates lexicographically sortable identifiers.
type ULID struct{}

func (ULID) Generate() (string, error) {
	id, err := ulid.New(ulid.Timestamp(time.Now()), rand.Reader)
	if err != nil {
		return "", fmt.Errorf("failed to generate ULID: %w", err)
	}
	return id.String(), nil
}

// UUID generates random version 4 UUIDs.
type UUID struct{}

func (UUID) Generate() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate UUID: %w", err)
	}
	return id.String(), nil
}

// KSUID generates K-Sortable identifiers.
type KSUID struct{}

func (KSUID) Generate() (string, error) {
	id, err := ksuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate KSUID: %w", err)
	}
	return id.String(), nil
}

// NanoID generates NanoIDs with a configurable size and alphabet.
type NanoID struct {
	size     int
	alphabet string
}

// NewNanoID validates the parameters; zero values select the defaults.
func NewNanoID(size int, alphabet string) (*NanoID, error) {
	if size == 0 {
		size = DefaultNanoIDSize
	}
	if alphabet == "" {
		alphabet = DefaultNanoIDAlphabet
	}
	if size < 1 || size > 256 {
		return nil, fmt.Errorf("nanoid size must be between 1 and 256, got %d", size)
	}
	if len(alphabet) < 2 {
		return nil, fmt.Errorf("nanoid alphabet must have at least 2 characters, got %d", len(alphabet))
	}
	return &NanoID{size: size, alphabet: alphabet}, nil
}

func (g *NanoID) Generate() (string, error) {
	id, err := gonanoid.Generate(g.alphabet, g.size)
	if err != nil {
		return "", fmt.Errorf("failed to generate NanoID: %w", err)
	}
	return id, nil
}

// CUID2 generates collision resistant identifiers.
type CUID2 struct {
	generate func() string
}

// NewCUID2 accepts lengths between 2 and 32; zero selects the default.
func NewCUID2(length int) (*CUID2, error) {
	if length == 0 {
		length = DefaultCUID2Length
	}
	if length < 2 || length > 32 {
		return nil, fmt.Errorf("cuid2 length must be between 2 and 32, got %d", length)
	}
	gen, err := cuid2.Init(cuid2.WithLength(length))
	if err != nil {
		return nil, fmt.Errorf("failed to init CUID2 generator: %w", err)
	}
	return &CUID2{generate: gen}, nil
}

func (g *CUID2) Generate() (string, error) {
	return g.generate(), nil
}
