package main

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/NgigiN/qris-gateway/internal/qris"
)

func tlv(tag, value string) string {
	return fmt.Sprintf("%s%02d%s", tag, len(value), value)
}

func TestPayloadCommand(t *testing.T) {
	body := tlv("00", "01") + tlv("01", "11") + tlv("52", "5499") +
		tlv("53", "360") + tlv("58", "ID") + tlv("59", "TOKO") + "6304"
	static := body + qris.Checksum(body)

	cmd := payloadCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--amount", "10000", "--static", static})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}

	got := strings.TrimSpace(out.String())
	want, err := qris.BuildDynamicPayload(static, 10000)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestPayloadCommandRejectsMalformed(t *testing.T) {
	cmd := payloadCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--amount", "10000", "--static", "000201010212ABCDEF"})
	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected malformed payload error")
	}
}

func TestSplitOrigins(t *testing.T) {
	got := splitOrigins(" https://a.example, ,https://b.example ")
	if len(got) != 2 || got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Fatalf("unexpected origins: %v", got)
	}
	if got := splitOrigins(""); len(got) != 0 {
		t.Fatalf("expected no origins, got %v", got)
	}
}
