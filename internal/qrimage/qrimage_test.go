package qrimage

import (
	"bytes"
	"strings"
	"testing"
)

func TestRenderPNG(t *testing.T) {
	r := New()
	png, err := r.PNG("0002010102125405100005802ID6304ABCD")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !bytes.HasPrefix(png, []byte("\x89PNG\r\n\x1a\n")) {
		t.Fatalf("output is not a PNG")
	}

	again, _ := r.PNG("0002010102125405100005802ID6304ABCD")
	if !bytes.Equal(png, again) {
		t.Fatalf("rendering is not deterministic")
	}
}

func TestRenderDataURL(t *testing.T) {
	url, err := New().DataURL("payload")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.HasPrefix(url, "data:image/png;base64,") {
		t.Fatalf("unexpected data url prefix: %.40s", url)
	}
	if _, err := New().DataURL(""); err == nil {
		t.Fatalf("expected error for empty payload")
	}
}
