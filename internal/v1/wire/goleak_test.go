package wire

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain asserts that no goroutine spawned by a connection handler (the
// sender/receiver pair in Serve) survives past the end of the test binary.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
