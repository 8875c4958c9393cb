package dbsession_test

import (
	"time"

	"github.com/google/uuid"
)

func newUUID() uuid.UUID {
	return uuid.New()
}

func fixedTime() time.Time {
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
}
