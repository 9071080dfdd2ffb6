package memory

import (
	"testing"
	"time"

	"github.com/arashen/durable/store/storetest"
	"github.com/benbjohnson/clock"
)

func TestStore_Conformance(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Date(2023, 1, 1, 12, 0, 0, 0, time.UTC))

	s := NewWithClock(mock)

	storetest.Run(t, s, func(d time.Duration) {
		mock.Add(d)
	})
}
