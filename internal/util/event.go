package util

import (
	"github.com/goccy/go-json"

	"github.com/nats-io/nats.go"
)

// PublishEvent serializes data and publishes it to the given subject. A nil
// JetStream context is a no-op so callers can run without NATS configured.
func PublishEvent(js nats.JetStreamContext, subject string, data any) error {
	if js == nil {
		return nil
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}

	_, err = js.Publish(subject, payload)
	if err != nil {
		return err
	}

	return nil
}
