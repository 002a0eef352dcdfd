package common

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"time"
)

// AuthorizationHeaderName is the HTTP header carrying the session token on
// REST collaborator requests.
const AuthorizationHeaderName = "Authorization"

// GenerateRandByteArray returns n cryptographically random bytes. It panics
// on failure, since a broken entropy source is not recoverable.
func GenerateRandByteArray(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return b
}

// Duration is a time.Duration that unmarshals from JSON either as a string
// ("10s", "2m") or as integer nanoseconds. Used by config DTOs.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
		return nil
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		d.Duration = parsed
		return nil
	default:
		return fmt.Errorf("invalid duration value %v", v)
	}
}
