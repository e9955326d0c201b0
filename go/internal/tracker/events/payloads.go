package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Payload types received from the hosting combat tracker. Field names follow the
// host's camelCase wire format.

var (
	// ErrMalformedPacket is returned when a packet is not valid JSON for the envelope
	ErrMalformedPacket = errors.New("malformed packet")
	// ErrUnexpectedEnvelope is returned when the envelope is not a server state message
	ErrUnexpectedEnvelope = errors.New("unexpected envelope")
	// ErrMissingPayload is returned when a state envelope carries no payload
	ErrMissingPayload = errors.New("missing payload")
)

const (
	HeadTypeServer = "server"
	DataTypeState  = "state"
)

// PeerPacket is the wrapper the host puts around every message
type PeerPacket struct {
	Head *PacketHead `json:"head,omitempty"`
	Data *PacketData `json:"data,omitempty"`
}

// PacketHead identifies the sender role of a packet
type PacketHead struct {
	Type    string `json:"type,omitempty"`
	Version string `json:"version,omitempty"`
}

// PacketData holds the typed body of a packet
type PacketData struct {
	Type    string          `json:"type,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// RawStatCol describes one stat column of the host tracker
type RawStatCol struct {
	Name            string `json:"name"`
	IsInit          bool   `json:"isInit"`
	IsPlayerVisible bool   `json:"isPlayerVisible"`
}

// RawStatePayload is the full-state snapshot sent by the host
type RawStatePayload struct {
	Round     int              `json:"round"`
	Rows      []RawCreatureRow `json:"rows"`
	StatsCols []RawStatCol     `json:"statsCols,omitempty"`
}

// RawCreatureRow is one creature row as sent by the host
type RawCreatureRow struct {
	Name           *string           `json:"name"`
	Initiative     *int              `json:"initiative"`
	IsActive       bool              `json:"isActive"`
	Conditions     []RawCondition    `json:"conditions"`
	HPWoundLevel   *int              `json:"hpWoundLevel"`
	HPCurrent      *int              `json:"hpCurrent,omitempty"`
	HPMax          *int              `json:"hpMax,omitempty"`
	RowStatColData []json.RawMessage `json:"rowStatColData,omitempty"`
}

// RawCondition is a condition tag on a row. Hosts send it either flat
// ({name, color}) or wrapped in an entity ({entity: {name, color, turns}}).
type RawCondition struct {
	Name  string `json:"name"`
	Color string `json:"color"`
	Turns *int   `json:"turns,omitempty"`
}

type rawConditionEntity struct {
	Name  string `json:"name"`
	Color string `json:"color"`
	Turns *int   `json:"turns"`
}

// UnmarshalJSON accepts both the flat and the entity-wrapped condition shape
func (c *RawCondition) UnmarshalJSON(data []byte) error {
	var wire struct {
		rawConditionEntity
		Entity *rawConditionEntity `json:"entity"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	src := wire.rawConditionEntity
	if wire.Entity != nil {
		src = *wire.Entity
	}
	*c = RawCondition{Name: src.Name, Color: src.Color, Turns: src.Turns}
	return nil
}

// DecodePacket unwraps a state packet and decodes its payload.
// Only packets with head.type == "server", data.type == "state" and a
// non-empty payload are accepted.
func DecodePacket(data []byte) (*RawStatePayload, error) {
	var packet PeerPacket
	if err := json.Unmarshal(data, &packet); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPacket, err)
	}

	if packet.Head == nil || packet.Head.Type != HeadTypeServer {
		return nil, fmt.Errorf("%w: head type %q", ErrUnexpectedEnvelope, headType(packet.Head))
	}
	if packet.Data == nil || packet.Data.Type != DataTypeState {
		return nil, fmt.Errorf("%w: data type %q", ErrUnexpectedEnvelope, dataType(packet.Data))
	}

	raw := bytes.TrimSpace(packet.Data.Payload)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, ErrMissingPayload
	}

	var payload RawStatePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrMalformedPacket, err)
	}
	return &payload, nil
}

// EncodeStatePacket wraps a payload the way the host does. Used by relays and tests.
func EncodeStatePacket(payload RawStatePayload) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal state payload: %w", err)
	}
	return json.Marshal(PeerPacket{
		Head: &PacketHead{Type: HeadTypeServer},
		Data: &PacketData{Type: DataTypeState, Payload: body},
	})
}

func headType(h *PacketHead) string {
	if h == nil {
		return ""
	}
	return h.Type
}

func dataType(d *PacketData) string {
	if d == nil {
		return ""
	}
	return d.Type
}
