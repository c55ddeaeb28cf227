package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"
)

const timestampLayout = "2006-01-02T15:04:05.000Z"

// ErrInvalidJSON means the frame is not JSON, or is JSON null.
var ErrInvalidJSON = errors.New("invalid json")

// Decode parses a single inbound frame. Only the type has to be a string;
// the remaining fields are read leniently. A frame that is valid JSON but not
// an object decodes to an Inbound with an empty type.
func Decode(data []byte) (Inbound, error) {
	var msg Inbound
	trimmed := bytes.TrimSpace(data)
	if !json.Valid(trimmed) || bytes.Equal(trimmed, []byte("null")) {
		return msg, ErrInvalidJSON
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return msg, nil
	}

	var kind string
	if err := json.Unmarshal(fields["type"], &kind); err == nil {
		msg.Type = MessageType(kind)
	}
	msg.ClientType = looseString(fields["clientType"])
	msg.RoomID = looseString(fields["roomId"])
	msg.TargetID = looseString(fields["targetId"])
	if raw := fields["metadata"]; !falsy(raw) {
		_ = json.Unmarshal(raw, &msg.Metadata)
	}
	msg.Data = fields["data"]
	return msg, nil
}

// Encode serializes an outbound frame.
func Encode(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// Timestamp renders t the way every relay frame carries time: UTC, millisecond precision.
func Timestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// PeekType extracts the type of an arbitrary frame without decoding the rest.
func PeekType(data []byte) MessageType {
	var head struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return ""
	}
	return head.Type
}

// looseString accepts a JSON string or number; anything else reads as empty.
func looseString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// falsy reports whether raw is absent, null, false, zero or the empty string.
func falsy(raw json.RawMessage) bool {
	switch string(bytes.TrimSpace(raw)) {
	case "", "null", "false", `""`:
		return true
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n == 0
	}
	return false
}
