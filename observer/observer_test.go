package observer

import (
	"context"
	"testing"
)

func TestInitReturnsShutdownFunc(t *testing.T) {
	shutdown, err := Init(context.Background(), "durex-test")
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if shutdown == nil {
		t.Fatal("expected a non-nil shutdown function")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
