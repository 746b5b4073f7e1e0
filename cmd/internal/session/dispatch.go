package session

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultAddressSuffix is the capability's individual-chat address marker.
	DefaultAddressSuffix = "@c.us"

	defaultSendTimeout = 60 * time.Second
)

// Dispatcher sends outbound messages through a Handle's client.
type Dispatcher struct {
	// MinDigits rejects normalized numbers shorter than this. Zero disables the check.
	MinDigits int
	// Suffix is appended to normalized numbers; empty means DefaultAddressSuffix.
	Suffix string
	// SendTimeout bounds the transmission itself, independent of the caller's context.
	SendTimeout time.Duration
}

// NormalizeNumber reduces raw to its digits and appends suffix. A raw value
// that already ends in suffix is normalized on its local part, so the
// operation is idempotent.
func NormalizeNumber(raw, suffix string, minDigits int) (string, error) {
	if suffix == "" {
		suffix = DefaultAddressSuffix
	}
	local := strings.TrimSuffix(strings.TrimSpace(raw), suffix)

	var b strings.Builder
	b.Grow(len(local) + len(suffix))
	for _, r := range local {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.Len()
	if digits == 0 {
		return "", fmt.Errorf("%w: no digits", ErrInvalidNumber)
	}
	if minDigits > 0 && digits < minDigits {
		return "", fmt.Errorf("%w: %d digits, need %d", ErrInvalidNumber, digits, minDigits)
	}
	b.WriteString(suffix)
	return b.String(), nil
}

// Send delivers body to rawNumber through h.
//
// It fails with ErrNotReady, without transmitting, unless h is connected.
// Capability failures come back as *DispatchError. If ctx ends first the
// caller gets a *DispatchError wrapping ctx.Err() while the transmission
// carries on; its outcome is logged.
func (d Dispatcher) Send(ctx context.Context, h *Handle, rawNumber, body string) error {
	if !h.IsReady() {
		h.metrics.dispatch("not_ready")
		return ErrNotReady
	}

	chatID, err := NormalizeNumber(rawNumber, d.Suffix, d.MinDigits)
	if err != nil {
		h.metrics.dispatch("invalid")
		return err
	}

	timeout := d.SendTimeout
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)

	done := make(chan error, 1)
	start := time.Now()
	go func() {
		defer cancel()
		done <- h.client.SendMessage(sendCtx, chatID, body)
	}()

	select {
	case err := <-done:
		return d.finish(h, chatID, err, start)
	case <-ctx.Done():
		h.log.Warn("dispatch.detached", "chat_id", chatID, "err", ctx.Err())
		go func() { _ = d.finish(h, chatID, <-done, start) }()
		return &DispatchError{Session: h.name, ChatID: chatID, Cause: ctx.Err()}
	}
}

func (d Dispatcher) finish(h *Handle, chatID string, err error, start time.Time) error {
	dur := time.Since(start).Milliseconds()
	if err != nil {
		h.log.Error("dispatch.fail", "chat_id", chatID, "duration_ms", dur, "err", err)
		h.metrics.dispatch("fail")
		return &DispatchError{Session: h.name, ChatID: chatID, Cause: err}
	}
	h.log.Info("dispatch.ok", "chat_id", chatID, "duration_ms", dur)
	h.metrics.dispatch("ok")
	return nil
}
