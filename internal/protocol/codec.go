package protocol

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
)

// DefaultMaxFrame bounds one line in either direction.
const DefaultMaxFrame = 64 * 1024

var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// Decoder reads newline-delimited frames.
type Decoder struct {
	scanner *bufio.Scanner
}

func NewDecoder(r io.Reader, maxFrame int) *Decoder {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrame
	}
	// Scanner enforces the larger of the limit and the initial capacity.
	initial := 4096
	if maxFrame < initial {
		initial = maxFrame
	}
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, initial), maxFrame)
	return &Decoder{scanner: s}
}

// Next returns the next non-blank line without its terminator. It returns
// io.EOF at a clean end of stream and ErrFrameTooLarge for an oversized line.
// The slice is only valid until the next call.
func (d *Decoder) Next() ([]byte, error) {
	for d.scanner.Scan() {
		line := d.scanner.Bytes()
		if len(line) > 0 && line[len(line)-1] == '\r' {
			line = line[:len(line)-1]
		}
		if len(line) == 0 {
			continue
		}
		return line, nil
	}
	if err := d.scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return nil, ErrFrameTooLarge
		}
		return nil, err
	}
	return nil, io.EOF
}

// ReadResponse decodes the next line as a Response with Data left raw.
func (d *Decoder) ReadResponse() (Response, error) {
	line, err := d.Next()
	if err != nil {
		return Response{}, err
	}
	var wire struct {
		Status  Status          `json:"status"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
		Code    string          `json:"code"`
	}
	if err := json.Unmarshal(line, &wire); err != nil {
		return Response{}, err
	}
	resp := Response{Status: wire.Status, Message: wire.Message, Code: wire.Code}
	if len(wire.Data) > 0 && string(wire.Data) != "null" {
		resp.Data = wire.Data
	}
	return resp, nil
}

// Encoder writes one JSON object per line.
type Encoder struct {
	enc *json.Encoder
}

func NewEncoder(w io.Writer) *Encoder {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &Encoder{enc: enc}
}

func (e *Encoder) WriteResponse(r Response) error {
	return e.enc.Encode(r)
}

func (e *Encoder) WriteCommand(cmd Command) error {
	b, err := EncodeCommand(cmd)
	if err != nil {
		return err
	}
	return e.enc.Encode(json.RawMessage(b))
}
