package qris

import (
	"fmt"
	"strconv"
)

// Field is one tag-length-value element of a payload.
type Field struct {
	Tag   string
	Value string
}

// Payload is a decoded top-level TLV sequence together with its raw form.
type Payload struct {
	Raw    string
	Fields []Field
}

// Decode splits a payload into its top-level TLV fields. Nested templates
// (merchant account information and the like) are left as opaque values.
func Decode(raw string) (Payload, error) {
	var fields []Field
	for pos := 0; pos < len(raw); {
		if pos+4 > len(raw) {
			return Payload{}, malformed("truncated field header at offset %d", pos)
		}
		tag := raw[pos : pos+2]
		length, err := strconv.Atoi(raw[pos+2 : pos+4])
		if err != nil {
			return Payload{}, malformed("invalid length for tag %s at offset %d", tag, pos)
		}
		start := pos + 4
		end := start + length
		if end > len(raw) {
			return Payload{}, malformed("tag %s overruns payload (want %d characters)", tag, length)
		}
		fields = append(fields, Field{Tag: tag, Value: raw[start:end]})
		pos = end
	}
	return Payload{Raw: raw, Fields: fields}, nil
}

// Get returns the first value carried under tag.
func (p Payload) Get(tag string) (string, bool) {
	for _, f := range p.Fields {
		if f.Tag == tag {
			return f.Value, true
		}
	}
	return "", false
}

// Amount decodes the transaction amount (tag 54).
func (p Payload) Amount() (int64, error) {
	value, ok := p.Get(amountTag)
	if !ok {
		return 0, fmt.Errorf("payload carries no amount field")
	}
	amount, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse amount %q: %w", value, err)
	}
	return amount, nil
}

// Dynamic reports whether the point-of-initiation method is dynamic.
func (p Payload) Dynamic() bool {
	v, ok := p.Get("01")
	return ok && v == "12"
}

// ChecksumValid recomputes the checksum over everything before the tag 63
// value and compares it to the carried one.
func (p Payload) ChecksumValid() bool {
	if len(p.Fields) == 0 {
		return false
	}
	last := p.Fields[len(p.Fields)-1]
	if last.Tag != checksumTag || len(last.Value) != checksumLength {
		return false
	}
	body := p.Raw[:len(p.Raw)-checksumLength]
	return Checksum(body) == last.Value
}
