package cli

import "testing"

func TestSetupSignalHandler(t *testing.T) {
	ctx := SetupSignalHandler()
	if ctx == nil {
		t.Fatal("expected a context")
	}
	select {
	case <-ctx.Done():
		t.Fatal("context canceled before any signal")
	default:
	}
}
