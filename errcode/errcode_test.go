package errcode

import (
	"errors"
	"fmt"
	"testing"
)

func TestOf(t *testing.T) {
	if Of(nil) != OK {
		t.Fatal("nil should map to ok")
	}
	if Of(Timeout) != Timeout {
		t.Fatal("bare code not recovered")
	}
	cause := errors.New("disk full")
	err := Wrap(StoreCommit, "store.increment", cause)
	if Of(err) != StoreCommit {
		t.Fatalf("wrapped code: got %q", Of(err))
	}
	if !errors.Is(err, cause) {
		t.Fatal("cause not reachable through Unwrap")
	}
	if Of(errors.New("x")) != Error {
		t.Fatal("foreign error should map to generic code")
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(StoreRead, "op", nil) != nil {
		t.Fatal("Wrap(nil) must be nil")
	}
}

func TestErrorString(t *testing.T) {
	err := Wrap(PublishFailed, "netpub.publish", fmt.Errorf("broker gone"))
	if got := err.Error(); got != "netpub.publish: publish_failed: broker gone" {
		t.Fatalf("got %q", got)
	}
}
