package zrtp

import (
	"encoding/base64"
	"fmt"
	"sort"

	"github.com/backkem/zrtp/pkg/crypto"
)

// MessageType identifies one of the eight protocol messages. The ordinal is
// the protocol order.
type MessageType uint8

const (
	MessageHello1 MessageType = iota
	MessageHello2
	MessageCommit
	MessageDHPart1
	MessageDHPart2
	MessageConfirm1
	MessageConfirm2
	MessageConf2Ack

	numMessageTypes
)

// Wire field names.
const (
	FieldClientVersion = "clientVersion"
	FieldH0            = "h0"
	FieldH1            = "h1"
	FieldH2            = "h2"
	FieldH3            = "h3"
	FieldHashedKey     = "hk"
	FieldHVI           = "hvi"
	FieldMAC           = "mac"
	FieldPublicKey     = "pkey"
	FieldVersion       = "version"
)

// String returns the wire name of the message type.
func (t MessageType) String() string {
	switch t {
	case MessageHello1:
		return "Hello1"
	case MessageHello2:
		return "Hello2"
	case MessageCommit:
		return "Commit"
	case MessageDHPart1:
		return "DHPart1"
	case MessageDHPart2:
		return "DHPart2"
	case MessageConfirm1:
		return "Confirm1"
	case MessageConfirm2:
		return "Confirm2"
	case MessageConf2Ack:
		return "Conf2Ack"
	default:
		return fmt.Sprintf("MessageType(%d)", uint8(t))
	}
}

// IsValid returns true if t is one of the eight protocol messages.
func (t MessageType) IsValid() bool {
	return t < numMessageTypes
}

// ParseMessageType returns the message type for a wire name.
func ParseMessageType(name string) (MessageType, error) {
	for t := MessageHello1; t < numMessageTypes; t++ {
		if t.String() == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown message type %q", ErrMalformedMessage, name)
}

// Fields returns the sorted set of wire field names a message of this type
// must carry.
func (t MessageType) Fields() []string {
	switch t {
	case MessageHello1, MessageHello2:
		return []string{FieldClientVersion, FieldH3, FieldHashedKey, FieldMAC, FieldVersion}
	case MessageCommit:
		return []string{FieldClientVersion, FieldH2, FieldHashedKey, FieldHVI, FieldMAC}
	case MessageDHPart1, MessageDHPart2:
		return []string{FieldH1, FieldMAC, FieldPublicKey}
	case MessageConfirm1, MessageConfirm2:
		return []string{FieldH0, FieldMAC}
	default:
		return nil
	}
}

// Prerequisites returns the message types that must already be present in a
// session before this type is accepted.
func (t MessageType) Prerequisites() []MessageType {
	switch t {
	case MessageCommit:
		return []MessageType{MessageHello1, MessageHello2}
	case MessageDHPart1:
		return []MessageType{MessageCommit}
	case MessageDHPart2:
		return []MessageType{MessageDHPart1}
	case MessageConfirm1:
		return []MessageType{MessageDHPart2}
	case MessageConfirm2:
		return []MessageType{MessageConfirm1}
	case MessageConf2Ack:
		return []MessageType{MessageConfirm2}
	default:
		return nil
	}
}

// Receiver returns the role that receives this message type.
func (t MessageType) Receiver() Role {
	switch t {
	case MessageHello1, MessageCommit, MessageDHPart2, MessageConfirm2:
		return RoleResponder
	default:
		return RoleInitiator
	}
}

// Sender returns the role that emits this message type.
func (t MessageType) Sender() Role {
	return t.Receiver().Peer()
}

// IsConfirm reports whether t belongs to the Confirm family, which is only
// emitted after the local user approved the SAS.
func (t MessageType) IsConfirm() bool {
	return t == MessageConfirm1 || t == MessageConfirm2
}

// Message is a protocol message as carried on the wire: a type tag plus a
// flat set of string fields.
type Message struct {
	Type   MessageType
	Fields map[string]string
}

// NewMessage creates an empty message of the given type.
func NewMessage(t MessageType) *Message {
	return &Message{Type: t, Fields: make(map[string]string)}
}

// Get returns the value of a field, or "" if absent.
func (m *Message) Get(name string) string {
	return m.Fields[name]
}

// Set sets a field value.
func (m *Message) Set(name, value string) {
	if m.Fields == nil {
		m.Fields = make(map[string]string)
	}
	m.Fields[name] = value
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	c := &Message{Type: m.Type, Fields: make(map[string]string, len(m.Fields))}
	for k, v := range m.Fields {
		c.Fields[k] = v
	}
	return c
}

// FieldNames returns the field names present in the message, sorted.
func (m *Message) FieldNames() []string {
	names := make([]string, 0, len(m.Fields))
	for k := range m.Fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// ValidateStructure checks that the message carries exactly the fields its
// type requires and that none of them is empty. It only looks at wire data.
func ValidateStructure(m *Message) error {
	if m == nil {
		return fmt.Errorf("%w: nil message", ErrMalformedMessage)
	}
	if !m.Type.IsValid() {
		return fmt.Errorf("%w: unknown message type %d", ErrMalformedMessage, uint8(m.Type))
	}

	expected := m.Type.Fields()
	if len(m.Fields) != len(expected) {
		return fmt.Errorf("%w: %s has %d fields, want %d", ErrMalformedMessage, m.Type, len(m.Fields), len(expected))
	}
	for _, name := range expected {
		v, ok := m.Fields[name]
		if !ok {
			return fmt.Errorf("%w: %s missing field %q", ErrMalformedMessage, m.Type, name)
		}
		if v == "" {
			return fmt.Errorf("%w: %s field %q is empty", ErrMalformedMessage, m.Type, name)
		}
	}
	return nil
}

// Hello is the decoded form of Hello1 and Hello2.
type Hello struct {
	Version         string
	H3              []byte
	HashedPublicKey []byte
	ClientVersion   string
	MAC             []byte
}

// Commit is the decoded form of Commit.
type Commit struct {
	H2              []byte
	HashedPublicKey []byte
	ClientVersion   string
	HVI             []byte
	MAC             []byte
}

// DHPart is the decoded form of DHPart1 and DHPart2.
type DHPart struct {
	H1        []byte
	PublicKey []byte
	MAC       []byte
}

// Confirm is the decoded form of Confirm1 and Confirm2.
type Confirm struct {
	H0  []byte
	MAC []byte
}

// Hello decodes a Hello1 or Hello2 message.
func (m *Message) Hello() (*Hello, error) {
	if m.Type != MessageHello1 && m.Type != MessageHello2 {
		return nil, fmt.Errorf("%w: %s is not a Hello", ErrMalformedMessage, m.Type)
	}
	if err := ValidateStructure(m); err != nil {
		return nil, err
	}

	h := &Hello{Version: m.Get(FieldVersion), ClientVersion: m.Get(FieldClientVersion)}
	var err error
	if h.H3, err = decodeField(m, FieldH3, crypto.SHA256LenBytes); err != nil {
		return nil, err
	}
	if h.HashedPublicKey, err = decodeField(m, FieldHashedKey, crypto.SHA256LenBytes); err != nil {
		return nil, err
	}
	if h.MAC, err = decodeField(m, FieldMAC, crypto.MACSize); err != nil {
		return nil, err
	}
	return h, nil
}

// Commit decodes a Commit message.
func (m *Message) Commit() (*Commit, error) {
	if m.Type != MessageCommit {
		return nil, fmt.Errorf("%w: %s is not a Commit", ErrMalformedMessage, m.Type)
	}
	if err := ValidateStructure(m); err != nil {
		return nil, err
	}

	c := &Commit{ClientVersion: m.Get(FieldClientVersion)}
	var err error
	if c.H2, err = decodeField(m, FieldH2, crypto.SHA256LenBytes); err != nil {
		return nil, err
	}
	if c.HashedPublicKey, err = decodeField(m, FieldHashedKey, crypto.SHA256LenBytes); err != nil {
		return nil, err
	}
	if c.HVI, err = decodeField(m, FieldHVI, crypto.SHA256LenBytes); err != nil {
		return nil, err
	}
	if c.MAC, err = decodeField(m, FieldMAC, crypto.MACSize); err != nil {
		return nil, err
	}
	return c, nil
}

// DHPart decodes a DHPart1 or DHPart2 message.
func (m *Message) DHPart() (*DHPart, error) {
	if m.Type != MessageDHPart1 && m.Type != MessageDHPart2 {
		return nil, fmt.Errorf("%w: %s is not a DHPart", ErrMalformedMessage, m.Type)
	}
	if err := ValidateStructure(m); err != nil {
		return nil, err
	}

	d := &DHPart{}
	var err error
	if d.H1, err = decodeField(m, FieldH1, crypto.SHA256LenBytes); err != nil {
		return nil, err
	}
	if d.PublicKey, err = decodeField(m, FieldPublicKey, crypto.P256PublicKeySizeBytes); err != nil {
		return nil, err
	}
	if d.MAC, err = decodeField(m, FieldMAC, crypto.MACSize); err != nil {
		return nil, err
	}
	return d, nil
}

// Confirm decodes a Confirm1 or Confirm2 message.
func (m *Message) Confirm() (*Confirm, error) {
	if m.Type != MessageConfirm1 && m.Type != MessageConfirm2 {
		return nil, fmt.Errorf("%w: %s is not a Confirm", ErrMalformedMessage, m.Type)
	}
	if err := ValidateStructure(m); err != nil {
		return nil, err
	}

	c := &Confirm{}
	var err error
	if c.H0, err = decodeField(m, FieldH0, crypto.SHA256LenBytes); err != nil {
		return nil, err
	}
	if c.MAC, err = decodeField(m, FieldMAC, crypto.MACSize); err != nil {
		return nil, err
	}
	return c, nil
}

// Message encodes the Hello as a message of type t (Hello1 or Hello2).
func (h *Hello) Message(t MessageType) *Message {
	m := NewMessage(t)
	m.Set(FieldVersion, h.Version)
	m.Set(FieldH3, encodeField(h.H3))
	m.Set(FieldHashedKey, encodeField(h.HashedPublicKey))
	m.Set(FieldClientVersion, h.ClientVersion)
	m.Set(FieldMAC, encodeField(h.MAC))
	return m
}

// Message encodes the Commit.
func (c *Commit) Message() *Message {
	m := NewMessage(MessageCommit)
	m.Set(FieldH2, encodeField(c.H2))
	m.Set(FieldHashedKey, encodeField(c.HashedPublicKey))
	m.Set(FieldClientVersion, c.ClientVersion)
	m.Set(FieldHVI, encodeField(c.HVI))
	m.Set(FieldMAC, encodeField(c.MAC))
	return m
}

// Message encodes the DHPart as a message of type t (DHPart1 or DHPart2).
func (d *DHPart) Message(t MessageType) *Message {
	m := NewMessage(t)
	m.Set(FieldH1, encodeField(d.H1))
	m.Set(FieldPublicKey, encodeField(d.PublicKey))
	m.Set(FieldMAC, encodeField(d.MAC))
	return m
}

// Message encodes the Confirm as a message of type t (Confirm1 or Confirm2).
func (c *Confirm) Message(t MessageType) *Message {
	m := NewMessage(t)
	m.Set(FieldH0, encodeField(c.H0))
	m.Set(FieldMAC, encodeField(c.MAC))
	return m
}

func encodeField(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func decodeField(m *Message, name string, size int) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(m.Get(name))
	if err != nil {
		return nil, fmt.Errorf("%w: %s field %q is not base64", ErrMalformedMessage, m.Type, name)
	}
	if len(b) != size {
		return nil, fmt.Errorf("%w: %s field %q is %d bytes, want %d", ErrMalformedMessage, m.Type, name, len(b), size)
	}
	return b, nil
}
