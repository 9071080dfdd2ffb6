package sqlite

import (
	"testing"

	"github.com/arashen/durable/store/storetest"
)

func TestStore_Conformance(t *testing.T) {
	s, err := NewInMemory()
	if err != nil {
		t.Fatalf("opening in-memory sqlite store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	storetest.Run(t, s, nil)
}
