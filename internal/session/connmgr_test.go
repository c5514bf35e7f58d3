package session

import (
	"context"
	"errors"
	"testing"

	"github.com/ashureev/tgcapture/internal/telegram"
	"github.com/ashureev/tgcapture/internal/telegram/telegramtest"
)

func failingDialer(errs ...error) *telegramtest.Dialer {
	n := 0
	return telegramtest.NewDialer(func(key string) *telegramtest.Client {
		c := telegramtest.NewClient(key, "tg://login?token=abc")
		if n < len(errs) && errs[n] != nil {
			c.FailConnect(errs[n])
		}
		n++
		return c
	})
}

func TestConnectionManager_AcquireConnects(t *testing.T) {
	dialer := failingDialer()
	m := NewConnectionManager(dialer, 0, nil)

	client, err := m.Acquire(context.Background(), "+1")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if !client.Alive() {
		t.Error("acquired client is not alive")
	}
	if got := len(dialer.Clients("+1")); got != 1 {
		t.Errorf("dialed %d clients, want 1", got)
	}
}

func TestConnectionManager_RetriesOnceOnTransient(t *testing.T) {
	dialer := failingDialer(telegram.ErrTransient)
	m := NewConnectionManager(dialer, 0, nil)

	client, err := m.Acquire(context.Background(), "+1")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	clients := dialer.Clients("+1")
	if len(clients) != 2 {
		t.Fatalf("dialed %d clients, want 2", len(clients))
	}
	if client != clients[1] {
		t.Error("Acquire() did not return the retried client")
	}
	if clients[0].CloseCount() != 1 {
		t.Errorf("failed client closed %d times, want 1", clients[0].CloseCount())
	}
}

func TestConnectionManager_UnreachableAfterRetry(t *testing.T) {
	dialer := failingDialer(telegram.ErrTransient, telegram.ErrTransient, telegram.ErrTransient)
	m := NewConnectionManager(dialer, 0, nil)

	_, err := m.Acquire(context.Background(), "+1")
	var connErr *ConnectError
	if !errors.As(err, &connErr) {
		t.Fatalf("Acquire() error = %v, want *ConnectError", err)
	}
	if connErr.Kind != ConnectUnreachable {
		t.Errorf("Kind = %s, want %s", connErr.Kind, ConnectUnreachable)
	}
	if connErr.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", connErr.Attempts)
	}
	if got := len(dialer.Clients("+1")); got != 2 {
		t.Errorf("dialed %d clients, want exactly 2", got)
	}
}

func TestConnectionManager_RejectedIsNotRetried(t *testing.T) {
	dialer := failingDialer(errors.New("api id invalid"))
	m := NewConnectionManager(dialer, 0, nil)

	_, err := m.Acquire(context.Background(), "+1")
	var connErr *ConnectError
	if !errors.As(err, &connErr) || connErr.Kind != ConnectRejected {
		t.Fatalf("Acquire() error = %v, want rejected ConnectError", err)
	}
	if got := len(dialer.Clients("+1")); got != 1 {
		t.Errorf("dialed %d clients, want 1", got)
	}
}

func TestConnectionManager_AcquireReturnsRegisteredClient(t *testing.T) {
	dialer := failingDialer()
	m := NewConnectionManager(dialer, 0, nil)
	reg := NewRegistry(m, nil)
	m.sessions = reg

	first, err := m.Acquire(context.Background(), "+1")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if err := reg.Put("+1", newSession("+1", first)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	second, err := m.Acquire(context.Background(), "+1")
	if err != nil {
		t.Fatalf("second Acquire() error = %v", err)
	}
	if first != second {
		t.Error("Acquire() opened a new connection for a registered identity")
	}
	if got := len(dialer.Clients("+1")); got != 1 {
		t.Errorf("dialed %d clients, want 1", got)
	}
}

func TestConnectionManager_AcquireClosesStaleUnregistered(t *testing.T) {
	dialer := failingDialer()
	m := NewConnectionManager(dialer, 0, nil)

	if _, err := m.Acquire(context.Background(), "+1"); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if _, err := m.Acquire(context.Background(), "+1"); err != nil {
		t.Fatalf("second Acquire() error = %v", err)
	}

	clients := dialer.Clients("+1")
	if len(clients) != 2 {
		t.Fatalf("dialed %d clients, want 2", len(clients))
	}
	if clients[0].CloseCount() != 1 {
		t.Errorf("stale client closed %d times, want 1", clients[0].CloseCount())
	}
}

func TestConnectionManager_ReleaseToleratesAbsence(t *testing.T) {
	dialer := failingDialer()
	m := NewConnectionManager(dialer, 0, nil)

	m.Release("+1")

	client, err := m.Acquire(context.Background(), "+1")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	m.Release("+1")
	m.Release("+1")
	if client.Alive() {
		t.Error("released client still alive")
	}
	if got := dialer.Clients("+1")[0].CloseCount(); got != 1 {
		t.Errorf("CloseCount() = %d, want 1", got)
	}
}

func TestConnectionManager_CanceledContext(t *testing.T) {
	m := NewConnectionManager(failingDialer(context.Canceled), 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Acquire(ctx, "+1")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Acquire() error = %v, want context.Canceled", err)
	}
}
