package testutil

import (
	"github.com/jbweber/homelab/uplink/internal/datastore"
)

// NewTestDSN generates a DSN for an in-memory SQLite database for testing purposes.
func NewTestDSN(testName string) string {
	return datastore.DSN(testName, &datastore.Options{InMemory: true})
}
