package frame

import "fmt"

// Type is the one-byte atom tag.
type Type uint8

// Request tags. Every response tag is the request tag with responseBit set.
const (
	TypeInfo         Type = 0x01
	TypeConnect      Type = 0x02
	TypeConnected    Type = 0x03
	TypeSleep        Type = 0x04
	TypeWake         Type = 0x05
	TypeChannelOpen  Type = 0x10
	TypeChannelClose Type = 0x11
	TypeSend         Type = 0x12
	TypeReceive      Type = 0x13
)

const responseBit Type = 0x80

var typeNames = map[Type]string{
	TypeInfo:         "info",
	TypeConnect:      "connect",
	TypeConnected:    "connected",
	TypeSleep:        "sleep",
	TypeWake:         "wake",
	TypeChannelOpen:  "channel.open",
	TypeChannelClose: "channel.close",
	TypeSend:         "send",
	TypeReceive:      "receive",
}

// Response returns the tag the peer answers t with.
func (t Type) Response() Type {
	return t | responseBit
}

func (t Type) IsResponse() bool {
	return t&responseBit != 0
}

// Request strips the response bit.
func (t Type) Request() Type {
	return t &^ responseBit
}

func (t Type) Known() bool {
	_, ok := typeNames[t.Request()]
	return ok
}

func (t Type) String() string {
	name, ok := typeNames[t.Request()]
	if !ok {
		return fmt.Sprintf("type(%#02x)", uint8(t))
	}
	if t.IsResponse() {
		return name + ".result"
	}
	return name
}
