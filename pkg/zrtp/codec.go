package zrtp

import (
	"bytes"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/cryptobyte"
)

// Binary frame layout:
//
//	u8  magic (0x5A)
//	u8  message type
//	u8  field count
//	repeated:
//	  u8-length-prefixed  field name
//	  u16-length-prefixed field value
const (
	frameMagic = 0x5A

	// MaxFrameSize bounds an encoded frame so it fits a single datagram on
	// IPv6 minimum-MTU paths.
	MaxFrameSize = 1280
)

// jsonTypeKey is the key of the type tag in the JSON encoding.
const jsonTypeKey = "type"

// MarshalBinary encodes the message as a binary frame.
// Fields are written in sorted order so encoding is deterministic.
func (m *Message) MarshalBinary() ([]byte, error) {
	if !m.Type.IsValid() {
		return nil, fmt.Errorf("%w: unknown message type %d", ErrMalformedMessage, uint8(m.Type))
	}
	names := m.FieldNames()
	if len(names) > 0xFF {
		return nil, fmt.Errorf("%w: too many fields", ErrMalformedMessage)
	}

	var b cryptobyte.Builder
	b.AddUint8(frameMagic)
	b.AddUint8(uint8(m.Type))
	b.AddUint8(uint8(len(names)))
	for _, name := range names {
		value := m.Fields[name]
		b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
			b.AddBytes([]byte(name))
		})
		b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
			b.AddBytes([]byte(value))
		})
	}

	out, err := b.Bytes()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if len(out) > MaxFrameSize {
		return nil, fmt.Errorf("%w: frame is %d bytes", ErrMalformedMessage, len(out))
	}
	return out, nil
}

// UnmarshalBinary decodes a binary frame. It does not validate the field set;
// see ValidateStructure.
func (m *Message) UnmarshalBinary(data []byte) error {
	if len(data) > MaxFrameSize {
		return fmt.Errorf("%w: frame is %d bytes", ErrMalformedMessage, len(data))
	}

	s := cryptobyte.String(data)
	var magic, typ, count uint8
	if !s.ReadUint8(&magic) || magic != frameMagic {
		return fmt.Errorf("%w: bad frame magic", ErrMalformedMessage)
	}
	if !s.ReadUint8(&typ) || !s.ReadUint8(&count) {
		return fmt.Errorf("%w: truncated frame header", ErrMalformedMessage)
	}

	t := MessageType(typ)
	if !t.IsValid() {
		return fmt.Errorf("%w: unknown message type %d", ErrMalformedMessage, typ)
	}

	fields := make(map[string]string, count)
	for i := 0; i < int(count); i++ {
		var name, value cryptobyte.String
		if !s.ReadUint8LengthPrefixed(&name) || !s.ReadUint16LengthPrefixed(&value) {
			return fmt.Errorf("%w: truncated field %d", ErrMalformedMessage, i)
		}
		if _, dup := fields[string(name)]; dup {
			return fmt.Errorf("%w: duplicate field %q", ErrMalformedMessage, string(name))
		}
		fields[string(name)] = string(value)
	}
	if !s.Empty() {
		return fmt.Errorf("%w: %d trailing bytes", ErrMalformedMessage, len(s))
	}

	m.Type = t
	m.Fields = fields
	return nil
}

// MarshalJSON encodes the message as a flat JSON object:
//
//	{"type": "Hello1", "clientVersion": "...", "h3": "...", ...}
func (m *Message) MarshalJSON() ([]byte, error) {
	if !m.Type.IsValid() {
		return nil, fmt.Errorf("%w: unknown message type %d", ErrMalformedMessage, uint8(m.Type))
	}
	if _, ok := m.Fields[jsonTypeKey]; ok {
		return nil, fmt.Errorf("%w: field name %q is reserved", ErrMalformedMessage, jsonTypeKey)
	}

	flat := make(map[string]string, len(m.Fields)+1)
	for k, v := range m.Fields {
		flat[k] = v
	}
	flat[jsonTypeKey] = m.Type.String()
	return json.Marshal(flat)
}

// UnmarshalJSON decodes a flat JSON object. Every value must be a string and
// keys must be unique.
func (m *Message) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil || tok != json.Delim('{') {
		return fmt.Errorf("%w: expected JSON object", ErrMalformedMessage)
	}

	var typeName string
	haveType := false
	fields := make(map[string]string)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("%w: non-string key", ErrMalformedMessage)
		}

		valTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		val, ok := valTok.(string)
		if !ok {
			return fmt.Errorf("%w: field %q is not a string", ErrMalformedMessage, key)
		}

		if key == jsonTypeKey {
			if haveType {
				return fmt.Errorf("%w: duplicate type tag", ErrMalformedMessage)
			}
			typeName, haveType = val, true
			continue
		}
		if _, dup := fields[key]; dup {
			return fmt.Errorf("%w: duplicate field %q", ErrMalformedMessage, key)
		}
		fields[key] = val
	}

	if tok, err := dec.Token(); err != nil || tok != json.Delim('}') {
		return fmt.Errorf("%w: unterminated JSON object", ErrMalformedMessage)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data after JSON object", ErrMalformedMessage)
	}
	if !haveType {
		return fmt.Errorf("%w: missing type tag", ErrMalformedMessage)
	}

	t, err := ParseMessageType(typeName)
	if err != nil {
		return err
	}

	m.Type = t
	m.Fields = fields
	return nil
}

// DecodeMessage decodes a frame in either encoding: binary frames start with
// the frame magic, anything else is parsed as JSON.
func DecodeMessage(data []byte) (*Message, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrMalformedMessage)
	}

	m := &Message{}
	if data[0] == frameMagic {
		if err := m.UnmarshalBinary(data); err != nil {
			return nil, err
		}
		return m, nil
	}
	if err := m.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return m, nil
}
