package schema

import (
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/atomlink/internal/protocol/frame"
	"github.com/danmuck/atomlink/internal/protocol/tlv"
)

var ErrNotResponse = errors.New("schema: atom is not a response")

// Info is the device identity snapshot returned by an info request.
type Info struct {
	FirmwareVersion string
	HardwareID      uint64
	Uptime          time.Duration
	Time            time.Time
	RadioCount      uint8
}

// Result is a validated response atom.
type Result struct {
	Type   frame.Type
	Status Status
	Fields []tlv.Field
}

// NewAtom validates fields against t and packs them into an atom.
func NewAtom(t frame.Type, fields ...tlv.Field) (frame.Atom, error) {
	if err := Validate(t, fields); err != nil {
		return frame.Atom{}, err
	}
	payload, err := tlv.EncodeFields(fields)
	if err != nil {
		return frame.Atom{}, err
	}
	return frame.Atom{Type: t, Payload: payload}, nil
}

// NewResult builds the response atom for request type t. Used by peers and
// test doubles; the engine only parses results.
func NewResult(t frame.Type, status Status, fields ...tlv.Field) (frame.Atom, error) {
	all := append([]tlv.Field{tlv.U8(FieldStatus, uint8(status))}, fields...)
	payload, err := tlv.EncodeFields(all)
	if err != nil {
		return frame.Atom{}, err
	}
	a := frame.Atom{Type: t.Response(), Payload: payload}
	if status == StatusOK || status == StatusEmpty {
		if err := Validate(a.Type, all); err != nil {
			return frame.Atom{}, err
		}
	}
	return a, nil
}

// ParseResult decodes and validates a response atom. Responses carrying a
// failure status only need the status field.
func ParseResult(a frame.Atom) (Result, error) {
	if !a.Type.IsResponse() {
		return Result{}, fmt.Errorf("%w: %s", ErrNotResponse, a.Type)
	}
	fields, err := tlv.DecodeFields(a.Payload)
	if err != nil {
		return Result{}, err
	}
	sf, ok := tlv.GetField(fields, FieldStatus)
	if !ok {
		return Result{}, ValidationError{Type: a.Type, FieldID: FieldStatus, Reason: "missing required field"}
	}
	st, err := sf.AsU8()
	if err != nil {
		return Result{}, ValidationError{Type: a.Type, FieldID: FieldStatus, Reason: "type mismatch"}
	}
	r := Result{Type: a.Type, Status: Status(st), Fields: fields}
	if r.Status == StatusOK || r.Status == StatusEmpty {
		if err := Validate(a.Type, fields); err != nil {
			return Result{}, err
		}
	}
	return r, nil
}

// Succeeded reports whether the peer accepted the request.
func (r Result) Succeeded() bool {
	return r.Status == StatusOK || r.Status == StatusEmpty
}

func (r Result) field(id uint8) (tlv.Field, error) {
	f, ok := tlv.GetField(r.Fields, id)
	if !ok {
		return tlv.Field{}, ValidationError{Type: r.Type, FieldID: id, Reason: "missing required field"}
	}
	return f, nil
}

func InfoRequest() (frame.Atom, error) {
	return NewAtom(frame.TypeInfo)
}

func InfoFields(info Info) []tlv.Field {
	return []tlv.Field{
		tlv.String(FieldFirmware, info.FirmwareVersion),
		tlv.U64(FieldHardwareID, info.HardwareID),
		tlv.U32(FieldUptime, uint32(info.Uptime/time.Second)),
		tlv.U32(FieldTime, uint32(info.Time.Unix())),
		tlv.U8(FieldRadioCount, info.RadioCount),
	}
}

func (r Result) Info() (Info, error) {
	var info Info
	f, err := r.field(FieldFirmware)
	if err != nil {
		return Info{}, err
	}
	if info.FirmwareVersion, err = f.AsString(); err != nil {
		return Info{}, err
	}
	if f, err = r.field(FieldHardwareID); err != nil {
		return Info{}, err
	}
	if info.HardwareID, err = f.AsU64(); err != nil {
		return Info{}, err
	}
	if f, err = r.field(FieldUptime); err != nil {
		return Info{}, err
	}
	uptime, err := f.AsU32()
	if err != nil {
		return Info{}, err
	}
	info.Uptime = time.Duration(uptime) * time.Second
	if f, err = r.field(FieldTime); err != nil {
		return Info{}, err
	}
	ts, err := f.AsU32()
	if err != nil {
		return Info{}, err
	}
	info.Time = time.Unix(int64(ts), 0).UTC()
	if f, err = r.field(FieldRadioCount); err != nil {
		return Info{}, err
	}
	if info.RadioCount, err = f.AsU8(); err != nil {
		return Info{}, err
	}
	return info, nil
}

func ConnectRequest(quick bool) (frame.Atom, error) {
	return NewAtom(frame.TypeConnect, tlv.Bool(FieldQuick, quick))
}

func ConnectedRequest() (frame.Atom, error) {
	return NewAtom(frame.TypeConnected)
}

func (r Result) Connected() (bool, error) {
	f, err := r.field(FieldConnected)
	if err != nil {
		return false, err
	}
	return f.AsBool()
}

func SleepRequest() (frame.Atom, error) {
	return NewAtom(frame.TypeSleep)
}

func WakeRequest() (frame.Atom, error) {
	return NewAtom(frame.TypeWake)
}

func ChannelOpenRequest(id uint8, name string) (frame.Atom, error) {
	return NewAtom(frame.TypeChannelOpen, tlv.U8(FieldChannelID, id), tlv.String(FieldChannelName, name))
}

func ChannelCloseRequest(id uint8) (frame.Atom, error) {
	return NewAtom(frame.TypeChannelClose, tlv.U8(FieldChannelID, id))
}

func SendRequest(id uint8, data []byte) (frame.Atom, error) {
	return NewAtom(frame.TypeSend, tlv.U8(FieldChannelID, id), tlv.Bytes(FieldData, data))
}

// MaxSendData is the largest channel payload that fits one frame.
const MaxSendData = frame.MaxPayloadSize - 2*tlv.HeaderLen - 1

func ReceiveRequest(id uint8, maxLen uint16) (frame.Atom, error) {
	return NewAtom(frame.TypeReceive, tlv.U8(FieldChannelID, id), tlv.U16(FieldMaxLen, maxLen))
}

// Data returns the channel payload of a receive result; absent data is an
// empty, non-nil slice.
func (r Result) Data() ([]byte, error) {
	f, ok := tlv.GetField(r.Fields, FieldData)
	if !ok {
		return []byte{}, nil
	}
	return f.AsBytes()
}

// RequestChannelID extracts the channel id from a channel-scoped request.
func RequestChannelID(a frame.Atom) (uint8, []tlv.Field, error) {
	fields, err := tlv.DecodeFields(a.Payload)
	if err != nil {
		return 0, nil, err
	}
	f, ok := tlv.GetField(fields, FieldChannelID)
	if !ok {
		return 0, nil, ValidationError{Type: a.Type, FieldID: FieldChannelID, Reason: "missing required field"}
	}
	id, err := f.AsU8()
	return id, fields, err
}
