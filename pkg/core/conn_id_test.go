package core

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestWithConnID(t *testing.T) {
	ctx := WithConnID(context.Background(), "conn-1")

	if got := GetConnID(ctx); got != "conn-1" {
		t.Errorf("GetConnID() = %v, want conn-1", got)
	}
}

func TestGetConnID_NoID(t *testing.T) {
	if id := GetConnID(context.Background()); id != "" {
		t.Errorf("GetConnID() = %v, want empty string", id)
	}
}

func TestWithNewConnID_IsUUID(t *testing.T) {
	id := GetConnID(WithNewConnID(context.Background()))
	if _, err := uuid.Parse(id); err != nil {
		t.Errorf("connection id %q is not a UUID: %v", id, err)
	}
	if NewConnID() == NewConnID() {
		t.Error("NewConnID() should not repeat")
	}
}
