package messages

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	idspkg "github.com/drblury/herald/internal/runtime/ids"
	jsoncodec "github.com/drblury/herald/internal/runtime/jsoncodec"
)

// ErrMalformed is returned by Decode for bodies that are not a JSON object with
// a string "type" and an object (or empty array) "payload". Connections treat such messages as
// poison: they are acknowledged and dropped without reaching any handler.
var ErrMalformed = errors.New("herald: malformed message body")

// Encode builds the wire envelope {"id","type","payload"}. An empty id is
// replaced with a generated one; the id actually used is returned.
func Encode(id, eventType string, payload Payload) ([]byte, string, error) {
	if id == "" {
		id = idspkg.NewMessageID()
	}

	payloadJSON, err := jsoncodec.Marshal(payload)
	if err != nil {
		return nil, "", fmt.Errorf("encode payload: %w", err)
	}

	body := []byte(`{}`)
	if body, err = sjson.SetBytes(body, "id", id); err != nil {
		return nil, "", err
	}
	if body, err = sjson.SetBytes(body, "type", eventType); err != nil {
		return nil, "", err
	}
	if body, err = sjson.SetRawBytes(body, "payload", payloadJSON); err != nil {
		return nil, "", err
	}
	return body, id, nil
}

// Decode parses a wire envelope. fallbackID is used when the body carries no
// id (for instance an AMQP delivery tag or a stream entry id); when both are
// empty an id is generated.
func Decode(body []byte, fallbackID string, raw any) (*Message, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrMalformed)
	}

	fields := gjson.GetManyBytes(body, "id", "type", "payload")
	idField, typeField, payloadField := fields[0], fields[1], fields[2]

	if !typeField.Exists() || typeField.Type != gjson.String || typeField.Str == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	var payload Payload
	switch {
	case payloadField.IsObject():
		if err := jsoncodec.Unmarshal([]byte(payloadField.Raw), &payload); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	case payloadField.IsArray() && len(payloadField.Array()) == 0:
		// Encoders without a distinct empty map type write an empty payload as [].
		payload = NewPayload()
	default:
		return nil, fmt.Errorf("%w: missing payload", ErrMalformed)
	}

	id := idField.String()
	if id == "" {
		id = fallbackID
	}
	if id == "" {
		id = idspkg.NewMessageID()
	}

	return New(id, typeField.Str, payload, raw), nil
}
