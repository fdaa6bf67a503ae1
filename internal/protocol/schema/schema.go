package schema

import (
	"fmt"

	"github.com/danmuck/atomlink/internal/protocol/frame"
	"github.com/danmuck/atomlink/internal/protocol/tlv"
	"github.com/rs/zerolog/log"
)

// Field IDs from the atom payload contract.
const (
	FieldStatus uint8 = 1

	FieldQuick     uint8 = 10
	FieldConnected uint8 = 11

	FieldFirmware   uint8 = 20
	FieldHardwareID uint8 = 21
	FieldUptime     uint8 = 22
	FieldTime       uint8 = 23
	FieldRadioCount uint8 = 24

	FieldChannelID   uint8 = 30
	FieldChannelName uint8 = 31
	FieldMaxLen      uint8 = 32
	FieldData        uint8 = 33
)

// Status is the peer's verdict carried by every response atom.
type Status uint8

const (
	StatusOK Status = iota
	StatusEmpty
	StatusNotConnected
	StatusDropped
	StatusChannelRejected
	StatusChannelUnknown
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusEmpty:
		return "empty"
	case StatusNotConnected:
		return "not_connected"
	case StatusDropped:
		return "dropped"
	case StatusChannelRejected:
		return "channel_rejected"
	case StatusChannelUnknown:
		return "channel_unknown"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

type Requirement struct {
	ID   uint8
	Type uint8
}

type ValidationError struct {
	Type    frame.Type
	FieldID uint8
	Reason  string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: type=%s: %s", e.Type, e.Reason)
	}
	return fmt.Sprintf("schema: type=%s field=%d: %s", e.Type, e.FieldID, e.Reason)
}

var statusReq = Requirement{FieldStatus, tlv.TypeU8}

var requirements = map[frame.Type][]Requirement{
	frame.TypeInfo:         {},
	frame.TypeConnect:      {{FieldQuick, tlv.TypeBool}},
	frame.TypeConnected:    {},
	frame.TypeSleep:        {},
	frame.TypeWake:         {},
	frame.TypeChannelOpen:  {{FieldChannelID, tlv.TypeU8}, {FieldChannelName, tlv.TypeString}},
	frame.TypeChannelClose: {{FieldChannelID, tlv.TypeU8}},
	frame.TypeSend:         {{FieldChannelID, tlv.TypeU8}, {FieldData, tlv.TypeBytes}},
	frame.TypeReceive:      {{FieldChannelID, tlv.TypeU8}, {FieldMaxLen, tlv.TypeU16}},

	frame.TypeInfo.Response(): {
		statusReq,
		{FieldFirmware, tlv.TypeString},
		{FieldHardwareID, tlv.TypeU64},
		{FieldUptime, tlv.TypeU32},
		{FieldTime, tlv.TypeU32},
		{FieldRadioCount, tlv.TypeU8},
	},
	frame.TypeConnect.Response():      {statusReq},
	frame.TypeConnected.Response():    {statusReq, {FieldConnected, tlv.TypeBool}},
	frame.TypeSleep.Response():        {statusReq},
	frame.TypeWake.Response():         {statusReq},
	frame.TypeChannelOpen.Response():  {statusReq},
	frame.TypeChannelClose.Response(): {statusReq},
	frame.TypeSend.Response():         {statusReq},
	frame.TypeReceive.Response():      {statusReq},
}

// optional lists fields that are type-checked only when present.
var optional = map[frame.Type][]Requirement{
	frame.TypeReceive.Response(): {{FieldData, tlv.TypeBytes}},
}

// Validate enforces required fields and required field types for an atom type.
// Unknown fields are ignored.
func Validate(t frame.Type, fields []tlv.Field) error {
	log.Trace().Msgf("schema.Validate type=%s fields=%d", t, len(fields))
	reqs, ok := requirements[t]
	if !ok {
		log.Error().Msgf("schema.Validate unknown type=%s", t)
		return ValidationError{Type: t, Reason: "unknown atom type"}
	}
	for _, req := range reqs {
		f, found := tlv.GetField(fields, req.ID)
		if !found {
			log.Error().Msgf("schema.Validate missing field type=%s field_id=%d", t, req.ID)
			return ValidationError{Type: t, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			log.Error().Msgf(
				"schema.Validate type mismatch type=%s field_id=%d got=%d want=%d",
				t,
				req.ID,
				f.Type,
				req.Type,
			)
			return ValidationError{Type: t, FieldID: req.ID, Reason: "type mismatch"}
		}
	}
	for _, opt := range optional[t] {
		if f, found := tlv.GetField(fields, opt.ID); found && f.Type != opt.Type {
			return ValidationError{Type: t, FieldID: opt.ID, Reason: "type mismatch"}
		}
	}
	return nil
}
