// Package qrcode renders QR login challenges for out-of-band scanning.
package qrcode

import (
	"context"
	"fmt"
	"io"
	"sync"

	qr "github.com/skip2/go-qrcode"
)

// Renderer presents a challenge URL to the user.
type Renderer interface {
	Render(ctx context.Context, identityKey, url string) error
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(ctx context.Context, identityKey, url string) error

// Render calls f.
func (f RendererFunc) Render(ctx context.Context, identityKey, url string) error {
	return f(ctx, identityKey, url)
}

// Nop discards every challenge.
var Nop Renderer = RendererFunc(func(context.Context, string, string) error { return nil })

// TerminalRenderer prints a compact text QR code to a writer.
type TerminalRenderer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewTerminalRenderer creates a renderer writing to w.
func NewTerminalRenderer(w io.Writer) *TerminalRenderer {
	return &TerminalRenderer{w: w}
}

// Render writes the QR code for url, labelled with the identity key.
func (r *TerminalRenderer) Render(_ context.Context, identityKey, url string) error {
	code, err := qr.New(url, qr.Medium)
	if err != nil {
		return fmt.Errorf("encode qr: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := fmt.Fprintf(r.w, "Scan to log in %s:\n%s\n", identityKey, code.ToSmallString(false)); err != nil {
		return fmt.Errorf("write qr: %w", err)
	}
	return nil
}

// PNG encodes url as a square PNG image of size pixels.
func PNG(url string, size int) ([]byte, error) {
	if size <= 0 {
		size = 256
	}
	png, err := qr.Encode(url, qr.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("encode qr png: %w", err)
	}
	return png, nil
}
