package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// PacketType is the leading digit of every frame.
type PacketType int

const (
	PacketConnect PacketType = iota
	PacketDisconnect
	PacketEvent
	PacketAck
	PacketConnectError
)

var ErrInvalidPacket = errors.New("invalid packet")

// Packet is one frame on the wire: <type>[ack id][json array].
// Event packets carry [event, payload?], ack packets the ack arguments and
// disconnect packets [reason].
type Packet struct {
	Type PacketType
	ID   *uint64
	Data []json.RawMessage
}

// NewEventPacket builds an event frame. A nil payload is omitted.
func NewEventPacket(event string, payload any, id *uint64) (*Packet, error) {
	name, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event name: %w", err)
	}

	data := []json.RawMessage{name}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload of %q: %w", event, err)
		}
		data = append(data, raw)
	}

	return &Packet{Type: PacketEvent, ID: id, Data: data}, nil
}

// NewAckPacket builds the reply to the event frame carrying id.
func NewAckPacket(id uint64, args ...any) (*Packet, error) {
	data := make([]json.RawMessage, 0, len(args))
	for _, arg := range args {
		raw, err := json.Marshal(arg)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal ack argument: %w", err)
		}
		data = append(data, raw)
	}
	return &Packet{Type: PacketAck, ID: &id, Data: data}, nil
}

func NewDisconnectPacket(reason string) *Packet {
	raw, _ := json.Marshal(reason)
	return &Packet{Type: PacketDisconnect, Data: []json.RawMessage{raw}}
}

func (p *Packet) Encode() ([]byte, error) {
	var builder strings.Builder

	builder.WriteString(strconv.Itoa(int(p.Type)))

	if p.ID != nil {
		builder.WriteString(strconv.FormatUint(*p.ID, 10))
	}

	if p.Data != nil {
		jsonData, err := json.Marshal(p.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal packet data: %w", err)
		}
		builder.Write(jsonData)
	}

	return []byte(builder.String()), nil
}

func DecodePacket(data []byte) (*Packet, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrInvalidPacket)
	}

	pos := 0
	if data[pos] < '0' || data[pos] > '4' {
		return nil, fmt.Errorf("%w: type %q", ErrInvalidPacket, data[pos])
	}
	packet := &Packet{Type: PacketType(data[pos] - '0')}
	pos++

	if pos < len(data) && data[pos] >= '0' && data[pos] <= '9' {
		end := pos
		for end < len(data) && data[end] >= '0' && data[end] <= '9' {
			end++
		}
		id, err := strconv.ParseUint(string(data[pos:end]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: ack id: %v", ErrInvalidPacket, err)
		}
		packet.ID = &id
		pos = end
	}

	if pos < len(data) {
		if err := json.Unmarshal(data[pos:], &packet.Data); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPacket, err)
		}
	}

	return packet, nil
}

// Event splits an event frame into its name and payload arguments.
func (p *Packet) Event() (string, []json.RawMessage, error) {
	if p.Type != PacketEvent || len(p.Data) == 0 {
		return "", nil, fmt.Errorf("%w: not an event frame", ErrInvalidPacket)
	}

	var event string
	if err := json.Unmarshal(p.Data[0], &event); err != nil {
		return "", nil, fmt.Errorf("%w: event name: %v", ErrInvalidPacket, err)
	}
	return event, p.Data[1:], nil
}

// Reason returns the reason carried by a disconnect frame.
func (p *Packet) Reason() string {
	if len(p.Data) > 0 {
		var reason string
		if json.Unmarshal(p.Data[0], &reason) == nil && reason != "" {
			return reason
		}
	}
	return ReasonServerDisconnect
}

func (pt PacketType) String() string {
	switch pt {
	case PacketConnect:
		return "connect"
	case PacketDisconnect:
		return "disconnect"
	case PacketEvent:
		return "event"
	case PacketAck:
		return "ack"
	case PacketConnectError:
		return "connect_error"
	default:
		return "unknown"
	}
}

// Args converts raw arguments into listener arguments.
func Args(raw []json.RawMessage) []any {
	args := make([]any, len(raw))
	for i, r := range raw {
		args[i] = r
	}
	return args
}
