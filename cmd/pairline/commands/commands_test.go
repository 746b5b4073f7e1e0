package commands

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"pairline/cmd/internal/portal"
)

func TestHashPassword_PrintsVerifiableHash(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetIn(strings.NewReader("s3cret-password\n"))
	root.SetOut(&out)
	root.SetArgs([]string{"hash-password"})

	if err := root.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	enc := strings.TrimSpace(out.String())
	ok, err := portal.VerifyPassword(enc, "s3cret-password")
	if err != nil || !ok {
		t.Fatalf("VerifyPassword ok=%v err=%v (hash %q)", ok, err, enc)
	}
}

func TestHashPassword_RejectsShort(t *testing.T) {
	root := newRootCmd()
	root.SetIn(strings.NewReader("short\n"))
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"hash-password"})

	if err := root.Execute(); err == nil {
		t.Fatalf("expected error for short password")
	}
}

func TestKeygen(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"keygen"})

	if err := root.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	key := strings.TrimSpace(out.String())
	if _, err := hex.DecodeString(key); err != nil || key == "" {
		t.Fatalf("keygen output %q is not hex: %v", key, err)
	}
	if _, err := portal.NewTokenManager(key, "pairline", time.Hour, 0); err != nil {
		t.Fatalf("generated key rejected: %v", err)
	}
}
