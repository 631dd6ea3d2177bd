package secrets

import (
	"bytes"
	"errors"
	"testing"
)

func TestSecretBoxRoundTripAndTamper(t *testing.T) {
	box, err := NewSecretBox(bytes.Repeat([]byte{7}, 32))
	if err != nil {
		t.Fatalf("NewSecretBox: %v", err)
	}
	sealed, err := box.Seal([]byte("token-123"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	plain, err := box.Open(sealed)
	if err != nil || string(plain) != "token-123" {
		t.Fatalf("Open: plain=%q err=%v", plain, err)
	}

	other, _ := NewSecretBox(bytes.Repeat([]byte{8}, 32))
	if _, err := other.Open(sealed); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen with wrong key, got %v", err)
	}
	if _, err := box.Open("not base64!"); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen for garbage, got %v", err)
	}
}

func TestNewSecretBoxRejectsShortKey(t *testing.T) {
	if _, err := NewSecretBox([]byte("short")); err == nil {
		t.Fatalf("expected error for short key")
	}
}
