package messaging

import "encoding/json"

// Codec converts events to and from message payloads.
type Codec[T any] struct {
	// ContentType is stamped on every outgoing message.
	ContentType string
	Marshal     func(event *T) ([]byte, error)
	Unmarshal   func(payload []byte, event *T) error
}

// JSON is the default codec for structured events.
func JSON[T any]() Codec[T] {
	return Codec[T]{
		ContentType: "application/json",
		Marshal: func(event *T) ([]byte, error) {
			return json.Marshal(event)
		},
		Unmarshal: func(payload []byte, event *T) error {
			return json.Unmarshal(payload, event)
		},
	}
}

// Text carries a string-like value as the raw payload with no envelope.
func Text[T ~string]() Codec[T] {
	return Codec[T]{
		ContentType: "text/plain",
		Marshal: func(event *T) ([]byte, error) {
			return []byte(*event), nil
		},
		Unmarshal: func(payload []byte, event *T) error {
			*event = T(payload)

			return nil
		},
	}
}
