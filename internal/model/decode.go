package model

import (
	"encoding/json"
	"fmt"

	"github.com/rickgao/tourney-live/internal/events"
)

// Decode unmarshals an event payload into T.
func Decode[T any](data json.RawMessage) (T, error) {
	var v T
	if len(data) == 0 {
		return v, fmt.Errorf("decode %T: empty payload", v)
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("decode %T: %w", v, err)
	}
	return v, nil
}

// Handle adapts a typed handler to the raw payload handlers accepted by
// connection.Manager.On. Payloads that do not decode are reported as handler
// errors and fn is not called.
func Handle[T any](fn func(T) error) events.Handler[json.RawMessage] {
	return func(data json.RawMessage) error {
		v, err := Decode[T](data)
		if err != nil {
			return err
		}
		return fn(v)
	}
}
