package importer

import (
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time retrieval so pipeline tests are deterministic.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// IDGenerator abstracts primary-key generation so pipeline tests are
// deterministic.
type IDGenerator interface {
	New() uuid.UUID
}

// UUIDGenerator produces random v4 UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) New() uuid.UUID { return uuid.New() }
