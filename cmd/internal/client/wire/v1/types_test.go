package v1

import (
	"testing"
	"time"
)

func TestEnvelopeValidate(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	cases := []struct {
		name    string
		env     Envelope
		wantErr bool
	}{
		{name: "event", env: Envelope{V: Version, Type: TypeQR, ID: "a", TS: now}},
		{name: "command", env: Envelope{V: Version, Type: TypeSend, ID: "a", TS: now}},
		{name: "result", env: Envelope{V: Version, Type: TypeResult, ID: "a", ReplyTo: "b", TS: now}},
		{name: "result without reply_to", env: Envelope{V: Version, Type: TypeResult, ID: "a"}, wantErr: true},
		{name: "missing version", env: Envelope{Type: TypeQR, ID: "a"}, wantErr: true},
		{name: "wrong version", env: Envelope{V: "v2", Type: TypeQR, ID: "a"}, wantErr: true},
		{name: "missing id", env: Envelope{V: Version, Type: TypeQR}, wantErr: true},
		{name: "missing type", env: Envelope{V: Version, ID: "a"}, wantErr: true},
		{name: "unknown type", env: Envelope{V: Version, Type: "nope", ID: "a"}, wantErr: true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.env.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate()=%v wantErr=%v", err, tc.wantErr)
			}
		})
	}
}

func TestEnvelopeIsEvent(t *testing.T) {
	t.Parallel()

	for _, typ := range []string{TypeQR, TypeReady, TypeAuthenticated, TypeAuthFailure, TypeDisconnected} {
		if !(Envelope{Type: typ}).IsEvent() {
			t.Fatalf("IsEvent(%q)=false want=true", typ)
		}
	}
	for _, typ := range []string{TypeResult, TypeSend, TypeInitialize} {
		if (Envelope{Type: typ}).IsEvent() {
			t.Fatalf("IsEvent(%q)=true want=false", typ)
		}
	}
}
