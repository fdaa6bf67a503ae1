package atomlink

import (
	"errors"

	"github.com/danmuck/atomlink/internal/protocol"
)

type (
	Kind  = protocol.Kind
	Error = protocol.Error
)

const (
	NoData        = protocol.NoData
	Communication = protocol.Communication
	NotConnected  = protocol.NotConnected
	Dropped       = protocol.Dropped
	KeepAwake     = protocol.KeepAwake
	// ChannelFailure is the channel-state kind; the name Channel is taken
	// by the channel type.
	ChannelFailure = protocol.Channel
)

var (
	ErrClosed         = protocol.ErrClosed
	ErrNotConnected   = errors.New("atomlink: not connected to the network")
	ErrChannelState   = protocol.ErrChannelState
	ErrNoChannelSlots = protocol.ErrNoChannelSlots
)

// KindOf returns the failure kind of err, or zero for unclassified errors.
func KindOf(err error) Kind {
	return protocol.KindOf(err)
}
