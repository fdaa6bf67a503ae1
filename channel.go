package atomlink

import "github.com/danmuck/atomlink/internal/channel"

type ChannelState = channel.State

const (
	ChannelClosed  = channel.StateClosed
	ChannelOpening = channel.StateOpening
	ChannelOpen    = channel.StateOpen

	// MaxPayload is the largest Send payload.
	MaxPayload = channel.MaxReceive
)

// Channel is one open logical channel. A closed Channel stays closed; open
// a new one to reuse the name.
type Channel struct {
	client *Client
	handle channel.Handle
	name   string
}

func (ch *Channel) ID() uint8 {
	return ch.handle.ID()
}

func (ch *Channel) Name() string {
	return ch.name
}

func (ch *Channel) State() ChannelState {
	return ch.client.channels.State(ch.handle)
}

// Send delivers data on the channel.
func (ch *Channel) Send(data []byte) error {
	if err := ch.client.ready("channel.send", true); err != nil {
		return err
	}
	err := ch.client.channels.Send(ch.handle, data)
	ch.client.observe(err)
	return err
}

// Receive returns up to maxLen queued bytes (MaxPayload when maxLen <= 0).
// A nil error with an empty slice means nothing was waiting.
func (ch *Channel) Receive(maxLen int) ([]byte, error) {
	if err := ch.client.ready("channel.receive", true); err != nil {
		return nil, err
	}
	data, err := ch.client.channels.Receive(ch.handle, maxLen)
	ch.client.observe(err)
	return data, err
}

// Close is idempotent and also succeeds after the client closed.
func (ch *Channel) Close() error {
	if err := ch.client.ready("channel.close", false); err != nil {
		// Client.Close already released every channel via CloseAll.
		return nil
	}
	return ch.client.channels.Close(ch.handle)
}
