package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrParse marks a line that is not a well-formed JSON object. The session
// layer reports it as a protocol error for that line and keeps reading.
var ErrParse = errors.New("malformed message")

// Decode parses one wire line into a Request. It does not reject unknown
// "type" values; dispatching on the type is the session handler's job.
func Decode(line []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return &req, nil
}

// Encode marshals a message and appends the line terminator. The result is
// exactly one JSON object followed by '\n'.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return append(data, '\n'), nil
}
