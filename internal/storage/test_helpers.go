package storage

import (
	"context"
	"testing"
	"time"
)

// testContext bounds a storage test so a wedged cache or pool call fails the
// test instead of hanging the run
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}
