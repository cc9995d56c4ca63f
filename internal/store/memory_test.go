package store

import (
	"testing"

	"qrattendance/internal/attendance"
)

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) attendance.Store { return NewMemory() })
}
