// Package v1 defines the pairline bridge protocol v1.
//
// The bridge protocol connects pairline to a sidecar process that owns the
// browser-automation messaging client for one session. The Go side sends
// commands and waits for results; the sidecar pushes lifecycle events.
// Every frame is one JSON Envelope in a websocket text message.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is embedded into every envelope.
const Version = "v1"

// Subprotocol is negotiated during the websocket handshake.
const Subprotocol = "pairline.bridge.v1"

// Commands (pairline -> sidecar). Each expects exactly one TypeResult with ReplyTo set to its ID.
const (
	TypeInitialize = "initialize"
	TypeSend       = "send"
	TypeLogout     = "logout"
	TypeDestroy    = "destroy"
)

// Replies and events (sidecar -> pairline).
const (
	TypeResult        = "result"
	TypeQR            = "qr"
	TypeReady         = "ready"
	TypeAuthenticated = "authenticated"
	TypeAuthFailure   = "auth_failure"
	TypeDisconnected  = "disconnected"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	ReplyTo string          `json:"reply_to,omitempty"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.ID) == "" {
		return errors.New("missing field: id")
	}

	switch e.Type {
	case TypeInitialize, TypeSend, TypeLogout, TypeDestroy,
		TypeQR, TypeReady, TypeAuthenticated, TypeAuthFailure, TypeDisconnected:
		return nil
	case TypeResult:
		if strings.TrimSpace(e.ReplyTo) == "" {
			return errors.New("result without reply_to")
		}
		return nil
	case "":
		return errors.New("missing field: type")
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// IsEvent reports whether the envelope is a sidecar lifecycle event.
func (e Envelope) IsEvent() bool {
	switch e.Type {
	case TypeQR, TypeReady, TypeAuthenticated, TypeAuthFailure, TypeDisconnected:
		return true
	default:
		return false
	}
}

// ---- Payloads ----

// SendPayload asks the sidecar to deliver one text message.
type SendPayload struct {
	ChatID string `json:"chat_id"`
	Body   string `json:"body"`
}

// ResultPayload answers a command.
type ResultPayload struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// QRPayload carries a pairing code.
type QRPayload struct {
	Code string `json:"code"`
}

// ReasonPayload carries the cause of auth_failure and disconnected events.
type ReasonPayload struct {
	Reason string `json:"reason,omitempty"`
}
