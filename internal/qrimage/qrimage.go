// Package qrimage renders payment payloads as PNG QR codes.
package qrimage

import (
	"encoding/base64"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

const (
	DefaultSize   = 512
	dataURLPrefix = "data:image/png;base64,"
)

// Renderer turns a payload into PNG bytes. It has no side effects.
type Renderer struct {
	Size  int
	Level qrcode.RecoveryLevel
}

// New returns a Renderer producing 512x512 images at medium error correction.
func New() Renderer {
	return Renderer{Size: DefaultSize, Level: qrcode.Medium}
}

// PNG encodes payload as a PNG image.
func (r Renderer) PNG(payload string) ([]byte, error) {
	if payload == "" {
		return nil, fmt.Errorf("cannot render an empty payload")
	}
	size := r.Size
	if size <= 0 {
		size = DefaultSize
	}
	png, err := qrcode.Encode(payload, r.Level, size)
	if err != nil {
		return nil, fmt.Errorf("failed to render qr code: %w", err)
	}
	return png, nil
}

// DataURL encodes payload as a base64 PNG data URL.
func (r Renderer) DataURL(payload string) (string, error) {
	png, err := r.PNG(payload)
	if err != nil {
		return "", err
	}
	return dataURLPrefix + base64.StdEncoding.EncodeToString(png), nil
}
