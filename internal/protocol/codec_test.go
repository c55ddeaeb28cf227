package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
		check   func(t *testing.T, msg Inbound)
	}{
		{
			name:  "register with metadata",
			input: `{"type":"register","clientType":"printer","metadata":{"model":"TM-T20"},"extra":1}`,
			check: func(t *testing.T, msg Inbound) {
				assert.Equal(t, MessageTypeRegister, msg.Type)
				assert.Equal(t, "printer", msg.ClientType)
				assert.Equal(t, map[string]interface{}{"model": "TM-T20"}, msg.Metadata)
			},
		},
		{
			name:  "direct message keeps raw data",
			input: `{"type":"direct_message","targetId":"abc","data":{"n":12345678901234567890}}`,
			check: func(t *testing.T, msg Inbound) {
				assert.Equal(t, "abc", msg.TargetID)
				assert.JSONEq(t, `{"n":12345678901234567890}`, string(msg.Data))
			},
		},
		{
			name:    "not json",
			input:   `{type:`,
			wantErr: ErrInvalidJSON,
		},
		{
			name:    "null",
			input:   ` null `,
			wantErr: ErrInvalidJSON,
		},
		{
			name:  "json but not an object",
			input: `[1,2,3]`,
			check: func(t *testing.T, msg Inbound) {
				assert.Empty(t, msg.Type)
			},
		},
		{
			name:  "non-string type",
			input: `{"type":5,"roomId":"r"}`,
			check: func(t *testing.T, msg Inbound) {
				assert.Empty(t, msg.Type)
				assert.Equal(t, "r", msg.RoomID)
			},
		},
		{
			name:  "scalar metadata",
			input: `{"type":"register","metadata":"TM-T20"}`,
			check: func(t *testing.T, msg Inbound) {
				assert.Equal(t, "TM-T20", msg.Metadata)
			},
		},
		{
			name:  "falsy metadata",
			input: `{"type":"register","metadata":false}`,
			check: func(t *testing.T, msg Inbound) {
				assert.Nil(t, msg.Metadata)
			},
		},
		{
			name:  "numeric ids",
			input: `{"type":"join_room","roomId":42,"targetId":7.5}`,
			check: func(t *testing.T, msg Inbound) {
				assert.Equal(t, MessageTypeJoinRoom, msg.Type)
				assert.Equal(t, "42", msg.RoomID)
				assert.Equal(t, "7.5", msg.TargetID)
			},
		},
		{
			name:  "object ids read as empty",
			input: `{"type":"join_room","roomId":{"a":1}}`,
			check: func(t *testing.T, msg Inbound) {
				assert.Empty(t, msg.RoomID)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(tt.input))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, msg)
		})
	}
}

func TestRoomLeft_NullRoom(t *testing.T) {
	data, err := Encode(RoomLeft{Type: MessageTypeRoomLeft})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"room_left","roomId":null}`, string(data))
}

func TestBroadcastMessage_OmitsMissingData(t *testing.T) {
	data, err := Encode(BroadcastMessage{Type: MessageTypeBroadcastMessage, From: "a", FromType: "web", Timestamp: "t"})
	require.NoError(t, err)

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.NotContains(t, fields, "data")
}

func TestTimestamp(t *testing.T) {
	ts := time.Date(2024, 3, 9, 10, 11, 12, 345000000, time.FixedZone("x", 3600))
	assert.Equal(t, "2024-03-09T09:11:12.345Z", Timestamp(ts))
}

func TestPeekType(t *testing.T) {
	assert.Equal(t, MessageTypePong, PeekType([]byte(`{"type":"pong","timestamp":"x"}`)))
	assert.Equal(t, MessageType(""), PeekType([]byte(`nope`)))
}
