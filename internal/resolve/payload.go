package resolve

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Payload is the decoded content of a spool label: base64url(JSON) followed by
// a dot and a hex HMAC signature.
type Payload struct {
	ID        int64
	Signature string
	Fields    map[string]any
}

// ParsePayload decodes a label locally without verifying its signature,
// which only the backend can do.
func ParsePayload(raw string) (Payload, error) {
	body, sig, ok := strings.Cut(strings.TrimSpace(raw), ".")
	if !ok || body == "" || sig == "" || strings.Contains(sig, ".") {
		return Payload{}, fmt.Errorf("%w: expected payload.signature", ErrInvalidCode)
	}

	data, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(body, "="))
	if err != nil {
		return Payload{}, fmt.Errorf("%w: payload is not base64url: %v", ErrInvalidCode, err)
	}

	fields := map[string]any{}
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return Payload{}, fmt.Errorf("%w: payload is not a JSON object: %v", ErrInvalidCode, err)
	}

	var id int64
	switch v := fields["id"].(type) {
	case json.Number:
		id, err = v.Int64()
	case string:
		id, err = strconv.ParseInt(v, 10, 64)
	case nil:
		return Payload{}, fmt.Errorf("%w: payload has no id", ErrInvalidCode)
	default:
		err = fmt.Errorf("unexpected id type %T", v)
	}
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrInvalidCode, err)
	}
	return Payload{ID: id, Signature: sig, Fields: fields}, nil
}
