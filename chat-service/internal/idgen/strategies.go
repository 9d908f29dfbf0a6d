package idgen

import (
	"crypto/rand"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/nrednav/cuid2"
	"github.com/oklog/ulid/v2"
	"github.com/segmentio/ksuid"
)

// UUID generates random v4 UUIDs, matching uuid primary keys.
type UUID struct{}

func (UUID) Generate() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate UUID: %w", err)
	}
	return id.String(), nil
}

func (UUID) Validate(id string) error {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid UUID format: %w", err)
	}
	if parsed.Version() != 4 {
		return fmt.Errorf("expected UUID v4, got v%d", parsed.Version())
	}
	return nil
}

// ULID generates lexicographically sortable ids.
type ULID struct{}

func (ULID) Generate() (string, error) {
	id, err := ulid.New(ulid.Timestamp(time.Now()), rand.Reader)
	if err != nil {
		return "", fmt.Errorf("failed to generate ULID: %w", err)
	}
	return id.String(), nil
}

func (ULID) Validate(id string) error {
	if _, err := ulid.ParseStrict(id); err != nil {
		return fmt.Errorf("invalid ULID format: %w", err)
	}
	return nil
}

// KSUID generates K-sortable ids.
type KSUID struct{}

func (KSUID) Generate() (string, error) {
	id, err := ksuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate KSUID: %w", err)
	}
	return id.String(), nil
}

func (KSUID) Validate(id string) error {
	if _, err := ksuid.Parse(id); err != nil {
		return fmt.Errorf("invalid KSUID format: %w", err)
	}
	return nil
}

const (
	DefaultNanoIDSize     = 21
	DefaultNanoIDAlphabet = "_-0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	DefaultCUID2Length    = 24
)

// NanoID generates short random ids over a configurable alphabet.
type NanoID struct {
	size     int
	alphabet string
}

// NewNanoID validates size (1..256) and alphabet (at least 2 runes).
func NewNanoID(size int, alphabet string) (*NanoID, error) {
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

func (g *NanoID) Validate(id string) error {
	if len(id) != g.size {
		return fmt.Errorf("expected length %d, got %d", g.size, len(id))
	}
	for _, c := range id {
		if !strings.ContainsRune(g.alphabet, c) {
			return fmt.Errorf("character %q not in alphabet", c)
		}
	}
	return nil
}

// CUID2 generates collision-resistant ids.
type CUID2 struct {
	length   int
	generate func() string
}

// NewCUID2 accepts lengths between 2 and 32.
func NewCUID2(length int) (*CUID2, error) {
	if length < 2 || length > 32 {
		return nil, fmt.Errorf("cuid2 length must be between 2 and 32, got %d", length)
	}
	gen, err := cuid2.Init(cuid2.WithLength(length))
	if err != nil {
		return nil, fmt.Errorf("failed to init CUID2 generator: %w", err)
	}
	return &CUID2{length: length, generate: gen}, nil
}

func (g *CUID2) Generate() (string, error) {
	return g.generate(), nil
}

func (g *CUID2) Validate(id string) error {
	if len(id) != g.length {
		return fmt.Errorf("expected length %d, got %d", g.length, len(id))
	}
	if !cuid2.IsCuid(id) {
		return fmt.Errorf("invalid CUID2 format")
	}
	return nil
}

const (
	snowflakeMachineBits  = 10
	snowflakeSequenceBits = 12
	snowflakeMaxMachine   = (1 << snowflakeMachineBits) - 1
	snowflakeMaxSequence  = (1 << snowflakeSequenceBits) - 1
)

// Snowflake generates 64-bit time-ordered ids: 41 bits of milliseconds
// since epoch, 10 bits of machine id and a 12-bit sequence.
type Snowflake struct {
	mu        sync.Mutex
	epoch     int64
	machineID int64
	sequence  int64
	lastTime  int64
	now       func() int64
}

// NewSnowflake requires machineID in [0, 1023]; epoch is unix milliseconds.
func NewSnowflake(machineID, epoch int64) (*Snowflake, error) {
	if machineID < 0 || machineID > snowflakeMaxMachine {
		return nil, fmt.Errorf("machine_id must be between 0 and %d, got %d", snowflakeMaxMachine, machineID)
	}
	return &Snowflake{
		epoch:     epoch,
		machineID: machineID,
		now:       func() int64 { return time.Now().UnixMilli() },
	}, nil
}

func (g *Snowflake) Generate() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if now < g.epoch {
		return "", fmt.Errorf("current time is before custom epoch")
	}
	if now < g.lastTime {
		return "", fmt.Errorf("clock moved backwards: current=%d, last=%d", now, g.lastTime)
	}

	if now == g.lastTime {
		g.sequence = (g.sequence + 1) & snowflakeMaxSequence
		if g.sequence == 0 {
			for now <= g.lastTime {
				now = g.now()
			}
		}
	} else {
		g.sequence = 0
	}
	g.lastTime = now

	id := ((now - g.epoch) << (snowflakeMachineBits + snowflakeSequenceBits)) |
		(g.machineID << snowflakeSequenceBits) |
		g.sequence
	return strconv.FormatInt(id, 10), nil
}

func (g *Snowflake) Validate(id string) error {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid integer format: %w", err)
	}
	if n < 0 {
		return fmt.Errorf("id must be a positive integer")
	}
	ts := n>>(snowflakeMachineBits+snowflakeSequenceBits) + g.epoch
	if ts > time.Now().UnixMilli() {
		return fmt.Errorf("timestamp is in the future")
	}
	return nil
}
