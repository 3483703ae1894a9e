package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// Request framing: a UTF-8 JSON document terminated by the four-byte
// sentinel 'E' 'O' 'T' 0x00. Responses are bare JSON; the server closes the
// connection to signal end-of-response.
var sentinel = []byte{'E', 'O', 'T', 0x00}

var (
	// ErrClientDisconnect is reported when the connection closes before a
	// complete request arrived. No response must be sent.
	ErrClientDisconnect = errors.New("disconnect by client")

	// ErrRequestTooLarge is reported when the accumulated request exceeds
	// the configured cap before the sentinel arrived.
	ErrRequestTooLarge = errors.New("request size exceeded by client")

	// ErrBinaryData is reported when the request body is not valid UTF-8.
	ErrBinaryData = errors.New("could not decode binary data received from client")

	// ErrCorruptJSON is reported when the request body is not valid JSON.
	ErrCorruptJSON = errors.New("corrupt json received from client")
)

// ReadRequest reads one framed request from r.
// Bytes are accumulated in chunks of bufferSize until the sentinel suffix is
// seen, the accumulated size exceeds sizeMax, or the peer disconnects.
func ReadRequest(r io.Reader, bufferSize, sizeMax int) (map[string]any, error) {
	var request []byte
	chunk := make([]byte, bufferSize)

	for {
		n, err := r.Read(chunk)
		if n > 0 {
			request = append(request, chunk[:n]...)
			if len(request) > sizeMax {
				return nil, ErrRequestTooLarge
			}
			if bytes.HasSuffix(request, sentinel) {
				break
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, ErrClientDisconnect
			}
			return nil, fmt.Errorf("reading request: %w", err)
		}
	}

	body := request[:len(request)-len(sentinel)]
	if !utf8.Valid(body) {
		return nil, ErrBinaryData
	}

	var req map[string]any
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, ErrCorruptJSON
	}

	return req, nil
}

// WriteResponse writes resp to w as a bare JSON document.
// The caller closes the connection afterwards to terminate the reply.
func WriteResponse(w io.Writer, resp Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		// A response that cannot be serialized is replaced with an error
		// envelope, which always can.
		data, _ = json.Marshal(FrameworkError("response could not be converted to JSON"))
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing response: %w", err)
	}
	return nil
}
