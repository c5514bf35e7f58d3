package qrcode

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestTerminalRenderer(t *testing.T) {
	var buf bytes.Buffer
	r := NewTerminalRenderer(&buf)

	if err := r.Render(context.Background(), "+15551234567", "tg://login?token=abc"); err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if !strings.Contains(buf.String(), "+15551234567") {
		t.Errorf("output missing identity label: %q", buf.String())
	}
	if len(strings.Split(buf.String(), "\n")) < 10 {
		t.Errorf("output too short to be a QR code")
	}
}

func TestPNG(t *testing.T) {
	png, err := PNG("tg://login?token=abc", 0)
	if err != nil {
		t.Fatalf("PNG() error = %v", err)
	}
	if !bytes.HasPrefix(png, []byte("\x89PNG")) {
		t.Error("PNG() did not return a PNG image")
	}
}
