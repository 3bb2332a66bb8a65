package pipeline

import (
	"encoding/json"
	"fmt"
	"time"
)

// PushEnvelope is the JSON body of a push delivery. Message.Data holds the
// base64 encoded payload.
type PushEnvelope struct {
	Message      PushMessage `json:"message"`
	Subscription string      `json:"subscription,omitempty"`
}

type PushMessage struct {
	Data        []byte            `json:"data"`
	MessageID   string            `json:"messageId,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	PublishTime time.Time         `json:"publishTime,omitempty"`
}

// EncodePushEnvelope wraps payload for delivery over HTTP.
func EncodePushEnvelope(subscription, messageID string, data []byte, attrs map[string]string, published time.Time) ([]byte, error) {
	return json.Marshal(PushEnvelope{
		Message: PushMessage{
			Data:        data,
			MessageID:   messageID,
			Attributes:  attrs,
			PublishTime: published.UTC(),
		},
		Subscription: subscription,
	})
}

// DecodePushEnvelope unwraps a push body and returns the decoded payload.
func DecodePushEnvelope(body []byte) (PushEnvelope, error) {
	var env PushEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return PushEnvelope{}, fmt.Errorf("%w: decode envelope: %v", ErrMalformedInput, err)
	}
	if len(env.Message.Data) == 0 {
		return PushEnvelope{}, fmt.Errorf("%w: envelope has no data", ErrMalformedInput)
	}
	return env, nil
}
