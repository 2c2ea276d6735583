package crypto

import (
	"bytes"
	"testing"
)

func TestOpenRoundTrip(t *testing.T) {
	var key [16]byte
	for i := range key {
		key[i] = byte(i)
	}
	var iv [16]byte
	for i := range iv {
		iv[i] = byte(0x10 + i)
	}

	c, err := New(key)
	if err != nil {
		t.Fatal(err)
	}

	plaintext := []byte("input event payload")
	sealed := c.gcm.Seal(nil, iv[:], plaintext, nil)

	got, err := c.Open(iv, sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("Open = %q, want %q", got, plaintext)
	}
}

func TestOpenTamperedTagFails(t *testing.T) {
	var key [16]byte
	var iv [16]byte
	c, err := New(key)
	if err != nil {
		t.Fatal(err)
	}

	sealed := c.gcm.Seal(nil, iv[:], []byte("hello"), nil)
	sealed[len(sealed)-1] ^= 0xFF // corrupt the tag

	if _, err := c.Open(iv, sealed); err != ErrAuthFailed {
		t.Fatalf("Open err = %v, want ErrAuthFailed", err)
	}
}
