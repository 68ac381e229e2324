package portab

import (
	"time"

	"github.com/google/uuid"
)

// Clock supplies creation timestamps so built containers are reproducible
// in tests.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// IDGenerator mints archive ids.
type IDGenerator interface {
	New() string
}

// UUIDGenerator mints random (v4) UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.NewString() }
