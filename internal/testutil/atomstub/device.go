package atomstub

import (
	"sort"
	"sync"
	"time"

	"github.com/danmuck/atomlink/internal/protocol/frame"
	"github.com/danmuck/atomlink/internal/protocol/schema"
	"github.com/danmuck/atomlink/internal/protocol/tlv"
)

// Device simulates an Atom: connection, sleep, channels and queued
// inbound channel data. Use Handle as a Peer handler.
type Device struct {
	mu sync.Mutex

	Info schema.Info
	// ConnectPolls is how many connected polls answer false after connect.
	ConnectPolls int
	MaxChannels  int
	DropSends    bool
	RejectOpen   bool
	// Silent makes the device ignore the next N requests of a type.
	Silent map[frame.Type]int

	asleep     bool
	connecting bool
	connected  bool
	pollsLeft  int
	channels   map[uint8]string
	inbound    map[uint8][][]byte
	sent       map[uint8][][]byte
}

func NewDevice() *Device {
	return &Device{
		Info: schema.Info{
			FirmwareVersion: "2.4.1",
			HardwareID:      0xC0FFEE0011223344,
			Uptime:          42 * time.Second,
			Time:            time.Unix(1700000000, 0).UTC(),
			RadioCount:      2,
		},
		MaxChannels: 8,
		Silent:      make(map[frame.Type]int),
		channels:    make(map[uint8]string),
		inbound:     make(map[uint8][][]byte),
		sent:        make(map[uint8][][]byte),
	}
}

// NewDevicePeer wires a fresh Device to a Peer on clock.
func NewDevicePeer(clock *Clock) (*Device, *Peer) {
	d := NewDevice()
	return d, NewPeer(clock, d.Handle)
}

func (d *Device) SetAsleep(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.asleep = v
}

func (d *Device) Asleep() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.asleep
}

func (d *Device) SetConnected(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = v
	d.connecting = false
}

func (d *Device) SetSilent(t frame.Type, n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Silent[t] = n
}

// Queue adds inbound data the host can receive on channel id.
func (d *Device) Queue(id uint8, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inbound[id] = append(d.inbound[id], append([]byte(nil), data...))
}

func (d *Device) Sent(id uint8) [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]byte(nil), d.sent[id]...)
}

// Channels returns the ids open on the device side.
func (d *Device) Channels() []uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]uint8, 0, len(d.channels))
	for id := range d.channels {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (d *Device) Handle(req frame.Atom) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n := d.Silent[req.Type]; n > 0 {
		d.Silent[req.Type] = n - 1
		return nil
	}
	if d.asleep {
		if req.Type != frame.TypeWake {
			return nil
		}
		d.asleep = false
	}
	switch req.Type {
	case frame.TypeWake:
		return Result(req.Type, schema.StatusOK)
	case frame.TypeInfo:
		return Result(req.Type, schema.StatusOK, schema.InfoFields(d.Info)...)
	case frame.TypeConnect:
		d.connecting = true
		d.pollsLeft = d.ConnectPolls
		return Result(req.Type, schema.StatusOK)
	case frame.TypeConnected:
		if d.connecting && !d.connected {
			if d.pollsLeft > 0 {
				d.pollsLeft--
			} else {
				d.connected = true
				d.connecting = false
			}
		}
		return Result(req.Type, schema.StatusOK, tlv.Bool(schema.FieldConnected, d.connected))
	case frame.TypeSleep:
		d.asleep = true
		return Result(req.Type, schema.StatusOK)
	}
	return d.handleChannel(req)
}

func (d *Device) handleChannel(req frame.Atom) []byte {
	id, fields, err := schema.RequestChannelID(req)
	if err != nil {
		return nil
	}
	if !d.connected {
		return Result(req.Type, schema.StatusNotConnected)
	}
	_, known := d.channels[id]
	switch req.Type {
	case frame.TypeChannelOpen:
		if d.RejectOpen || len(d.channels) >= d.MaxChannels || known {
			return Result(req.Type, schema.StatusChannelRejected)
		}
		name, _ := tlv.GetField(fields, schema.FieldChannelName)
		d.channels[id] = string(name.Value)
		return Result(req.Type, schema.StatusOK)
	case frame.TypeChannelClose:
		if !known {
			return Result(req.Type, schema.StatusChannelUnknown)
		}
		delete(d.channels, id)
		delete(d.inbound, id)
		return Result(req.Type, schema.StatusOK)
	case frame.TypeSend:
		if !known {
			return Result(req.Type, schema.StatusChannelUnknown)
		}
		if d.DropSends {
			return Result(req.Type, schema.StatusDropped)
		}
		data, _ := tlv.GetField(fields, schema.FieldData)
		d.sent[id] = append(d.sent[id], append([]byte(nil), data.Value...))
		return Result(req.Type, schema.StatusOK)
	case frame.TypeReceive:
		if !known {
			return Result(req.Type, schema.StatusChannelUnknown)
		}
		q := d.inbound[id]
		if len(q) == 0 {
			return Result(req.Type, schema.StatusEmpty)
		}
		f, _ := tlv.GetField(fields, schema.FieldMaxLen)
		maxLen, _ := f.AsU16()
		data := q[0]
		if int(maxLen) < len(data) {
			data = data[:maxLen]
		}
		d.inbound[id] = q[1:]
		return Result(req.Type, schema.StatusOK, tlv.Bytes(schema.FieldData, data))
	}
	return nil
}
