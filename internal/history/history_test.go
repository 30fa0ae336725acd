package history

import (
	"context"
	"testing"
	"time"
)

func TestOpenRejectsMalformedDSN(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := Open(ctx, "not a connection string"); err == nil {
		t.Error("expected an error opening a malformed database URL")
	}
}

