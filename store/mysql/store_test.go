package mysql

import (
	"os"
	"strconv"
	"testing"

	"github.com/arashen/durable/store/storetest"
)

// TestStore_Conformance requires a reachable MySQL instance and is skipped
// under `go test -short` or when DURABLE_MYSQL_* env vars are unset, so it
// only runs where a live database is actually configured.
func TestStore_Conformance(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping mysql conformance test in short mode")
	}

	host := os.Getenv("DURABLE_MYSQL_HOST")
	if host == "" {
		t.Skip("DURABLE_MYSQL_HOST not set")
	}

	port, _ := strconv.Atoi(os.Getenv("DURABLE_MYSQL_PORT"))
	if port == 0 {
		port = 3306
	}

	s, err := New(host, port, os.Getenv("DURABLE_MYSQL_USER"), os.Getenv("DURABLE_MYSQL_PASSWORD"), os.Getenv("DURABLE_MYSQL_DATABASE"))
	if err != nil {
		t.Fatalf("opening mysql store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	storetest.Run(t, s, nil)
}
