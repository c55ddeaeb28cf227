package client

import (
	"encoding/json"
	"reflect"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"

	"github.com/fenggwsx/BridgeRelay/internal/protocol"
)

var rawMessageType = reflect.TypeOf(json.RawMessage(nil))

// frame is an inbound relay message with its fields still untyped.
type frame struct {
	Type   protocol.MessageType
	Fields map[string]interface{}
	Raw    []byte
}

func parseFrame(data []byte) (frame, error) {
	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return frame{Raw: data}, errors.Wrap(err, "parse frame")
	}
	f := frame{Fields: fields, Raw: data}
	if t, ok := fields["type"].(string); ok {
		f.Type = protocol.MessageType(t)
	}
	return f, nil
}

// decodeInto maps the frame fields onto one of the protocol structs.
func (f frame) decodeInto(out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:    "json",
		Result:     out,
		DecodeHook: rawMessageHook(),
	})
	if err != nil {
		return errors.Wrap(err, "new decoder")
	}
	return errors.Wrapf(dec.Decode(f.Fields), "decode %s", f.Type)
}

// rawMessageHook re-encodes arbitrary JSON values into json.RawMessage fields.
func rawMessageHook() mapstructure.DecodeHookFuncType {
	return func(from, to reflect.Type, data interface{}) (interface{}, error) {
		if to != rawMessageType {
			return data, nil
		}
		encoded, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		return json.RawMessage(encoded), nil
	}
}

// payloadFromText turns user input into a data payload: valid JSON is sent
// as-is, anything else as a JSON string.
func payloadFromText(text string) json.RawMessage {
	if text == "" {
		return nil
	}
	if json.Valid([]byte(text)) {
		return json.RawMessage(text)
	}
	encoded, _ := json.Marshal(text)
	return encoded
}

// describeData renders a payload compactly for the chat view.
func describeData(data json.RawMessage) string {
	if len(data) == 0 {
		return "(no data)"
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s
	}
	return string(data)
}
