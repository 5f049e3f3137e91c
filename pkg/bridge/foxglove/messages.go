// Package foxglove serves driver telemetry to Foxglove Studio using the
// foxglove.websocket.v1 subprotocol with JSON-encoded channels.
package foxglove

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
)

// Server to client text ops.
const (
	OpServerInfo = "serverInfo"
	OpStatus     = "status"
	OpAdvertise  = "advertise"
)

// Client to server text ops.
const (
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
)

// BinaryOpMessageData prefixes every channel message frame.
const BinaryOpMessageData = 0x01

// Levels of a status op.
const (
	StatusInfo    uint8 = 0
	StatusWarning uint8 = 1
	StatusError   uint8 = 2
)

// ErrUnsupportedOp is returned for client ops the bridge does not serve.
var ErrUnsupportedOp = errors.New("unsupported client op")

// ServerInfoMsg is the first message a client receives. Metadata carries the
// scheduler timing so a viewer can relate virtual micros to ticks.
type ServerInfoMsg struct {
	Op                 string            `json:"op"`
	Name               string            `json:"name"`
	Capabilities       []string          `json:"capabilities"`
	SupportedEncodings []string          `json:"supportedEncodings,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	SessionID          string            `json:"sessionId,omitempty"`
}

// StatusMsg is a session notice shown in the Foxglove problems panel.
type StatusMsg struct {
	Op      string `json:"op"`
	Level   uint8  `json:"level"`
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
}

func NewStatus(level uint8, id string, message string) StatusMsg {
	return StatusMsg{Op: OpStatus, Level: level, Message: message, ID: id}
}

type Channel struct {
	ID             uint64 `json:"id"`
	Topic          string `json:"topic"`
	Encoding       string `json:"encoding"`
	SchemaName     string `json:"schemaName"`
	SchemaEncoding string `json:"schemaEncoding,omitempty"`
	Schema         string `json:"schema,omitempty"`
}

type AdvertiseMsg struct {
	Op       string    `json:"op"`
	Channels []Channel `json:"channels"`
}

type Subscription struct {
	ID        uint32 `json:"id"`
	ChannelID uint64 `json:"channelId"`
}

type SubscribeMsg struct {
	Op            string         `json:"op"`
	Subscriptions []Subscription `json:"subscriptions"`
}

type UnsubscribeMsg struct {
	Op              string   `json:"op"`
	SubscriptionIDs []uint32 `json:"subscriptionIds"`
}

// ParseClientMessage decodes one client text frame into a SubscribeMsg or an
// UnsubscribeMsg.
func ParseClientMessage(data []byte) (any, error) {
	var header struct {
		Op string `json:"op"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, fmt.Errorf("client message: %w", err)
	}

	switch header.Op {
	case OpSubscribe:
		var msg SubscribeMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("%s: %w", header.Op, err)
		}
		return msg, nil
	case OpUnsubscribe:
		var msg UnsubscribeMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("%s: %w", header.Op, err)
		}
		return msg, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedOp, header.Op)
	}
}

// EncodeMessageData frames a binary messageData op:
// opcode, subscription id (u32 LE), log time in ns (u64 LE), payload.
func EncodeMessageData(subscriptionID uint32, logTime uint64, payload []byte) []byte {
	out := make([]byte, 0, 1+4+8+len(payload))
	out = append(out, BinaryOpMessageData)
	out = binary.LittleEndian.AppendUint32(out, subscriptionID)
	out = binary.LittleEndian.AppendUint64(out, logTime)
	return append(out, payload...)
}
