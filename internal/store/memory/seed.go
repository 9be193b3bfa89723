package memory

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"poscore/backend/internal/store/seed"
)

// SeedStoreID is the store every seeded row belongs to.
const SeedStoreID = seed.StoreID

// NewSeeded returns a store loaded with the demo fixtures for dev/demo mode
// and tests.
func NewSeeded() *Store {
	s := New()
	fixtures, err := seed.Demo(time.Now().UTC())
	if err != nil {
		logrus.Fatalf("memory store: %v", err)
	}
	if err := seed.Apply(context.Background(), s, fixtures); err != nil {
		logrus.Fatalf("memory store: %v", err)
	}
	return s
}
