package protocol

import (
	"fmt"
	"strings"

	"fcbridge/pkg/variant"
)

// StopToken is the raw datagram a host sends in place of a StatePacket to end
// the session. It is not variant-framed.
var StopToken = []byte("STOP")

// Kind identifies a datagram type on the wire.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindAck
	KindInit
	KindState
	KindStateUpdate
	KindStateOsdUpdate
	KindStop
)

func (k Kind) String() string {
	switch k {
	case KindAck:
		return "Ack"
	case KindInit:
		return "InitPacket"
	case KindState:
		return "StatePacket"
	case KindStateUpdate:
		return "StateUpdatePacket"
	case KindStateOsdUpdate:
		return "StateOsdUpdatePacket"
	case KindStop:
		return "Stop"
	default:
		return "Unknown"
	}
}

// Every datagram type has a distinct fixed size, so the length alone names it.
var sizeRegistry = map[int]Kind{
	variant.BoolSize:         KindAck,
	InitPacketSize:           KindInit,
	StatePacketSize:          KindState,
	StateUpdatePacketSize:    KindStateUpdate,
	StateOsdUpdatePacketSize: KindStateOsdUpdate,
}

// IsStop reports whether payload is exactly the stop token.
func IsStop(payload []byte) bool {
	return string(payload) == string(StopToken)
}

// Identify guesses the datagram kind of payload from its length.
func Identify(payload []byte) Kind {
	if IsStop(payload) {
		return KindStop
	}
	return sizeRegistry[len(payload)]
}

// ParsePacket identifies and exactly decodes payload.
func ParsePacket(payload []byte) (Kind, any, error) {
	kind := Identify(payload)
	switch kind {
	case KindStop:
		return kind, string(payload), nil
	case KindAck:
		v, err := variant.DecodeBool(payload)
		return kind, v, err
	case KindInit:
		v, err := Decode[InitPacket](payload)
		return kind, v, err
	case KindState:
		v, err := Decode[StatePacket](payload)
		return kind, v, err
	case KindStateUpdate:
		v, err := Decode[StateUpdatePacket](payload)
		return kind, v, err
	case KindStateOsdUpdate:
		v, err := Decode[StateOsdUpdatePacket](payload)
		return kind, v, err
	default:
		return kind, nil, fmt.Errorf("no packet of %d bytes", len(payload))
	}
}

// HexDump renders payload as uppercase hex grouped in 4-byte words.
func HexDump(payload []byte) string {
	const lut = "0123456789ABCDEF"
	var sb strings.Builder
	sb.Grow(len(payload)*2 + len(payload)/4 + 1)
	for i, c := range payload {
		if i%4 == 0 {
			sb.WriteByte(' ')
		}
		sb.WriteByte(lut[c>>4])
		sb.WriteByte(lut[c&15])
	}
	return sb.String()
}
