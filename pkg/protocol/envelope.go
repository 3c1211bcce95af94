// Package protocol defines the envelope exchanged between relay clients and the server.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// TextField is the only field the relay inspects.
const TextField = "text"

var (
	// ErrMalformed is returned for frames that are not a valid envelope.
	ErrMalformed = errors.New("malformed envelope")

	// ErrInvalidJSON is returned when the frame is not a JSON object.
	ErrInvalidJSON = fmt.Errorf("%w: invalid json", ErrMalformed)

	// ErrInvalidText is returned when the text field is missing or not a string.
	ErrInvalidText = fmt.Errorf("%w: text must be a string", ErrMalformed)

	// ErrEmptyText is returned when text is blank after trimming.
	ErrEmptyText = errors.New("empty text")
)

// Envelope is the wire unit: {"text": "..."}.
type Envelope struct {
	Text string `json:"text"`
}

// Encode serializes the envelope as compact JSON.
func (e Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return data, nil
}

// Parse validates raw as an envelope.
// Fields other than text are accepted and ignored. Objects with a repeated
// key are rejected as invalid JSON, since recipients could disagree on
// which value is the message.
func Parse(raw []byte) (Envelope, error) {
	var obj structpb.Struct
	if err := protojson.Unmarshal(raw, &obj); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	value, ok := obj.GetFields()[TextField]
	if !ok {
		return Envelope{}, fmt.Errorf("%w: missing field %q", ErrInvalidText, TextField)
	}
	str, ok := value.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return Envelope{}, fmt.Errorf("%w: got %s", ErrInvalidText, kindName(value))
	}

	env := Envelope{Text: str.StringValue}
	if strings.TrimSpace(env.Text) == "" {
		return env, ErrEmptyText
	}
	return env, nil
}

func kindName(v *structpb.Value) string {
	switch v.GetKind().(type) {
	case *structpb.Value_NullValue:
		return "null"
	case *structpb.Value_NumberValue:
		return "number"
	case *structpb.Value_BoolValue:
		return "bool"
	case *structpb.Value_StructValue:
		return "object"
	case *structpb.Value_ListValue:
		return "array"
	default:
		return "unknown"
	}
}
