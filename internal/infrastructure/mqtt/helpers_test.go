package mqtt

import (
	"os"
	"testing"
)

func requireBroker(t *testing.T) {
	t.Helper()
	if os.Getenv("MESHBRIDGE_INTEGRATION") != "1" {
		t.Skip("set MESHBRIDGE_INTEGRATION=1 to run against a live broker")
	}
}
