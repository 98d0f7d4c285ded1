package transport

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
)

// envelope is a JSON-RPC 2.0 request frame.
type envelope struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// frame is an incoming JSON-RPC 2.0 message: either a response correlated
// by ID, or a push notification carrying a method and params.
type frame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *wireError      `json:"error,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// wireError is a JSON-RPC 2.0 error object.
type wireError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *wireError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// gzip member header magic bytes.
var gzipMagic = []byte{0x1f, 0x8b}

// encodeFrame serializes one or more envelopes into a wire message. A single
// envelope is sent as a plain object, multiple as a JSON array. When
// compress is true the payload is gzip-framed.
func encodeFrame(envs []envelope, compress bool) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if len(envs) == 1 {
		data, err = json.Marshal(envs[0])
	} else {
		data, err = json.Marshal(envs)
	}
	if err != nil {
		return nil, fmt.Errorf("marshal frame: %w", err)
	}

	if !compress {
		return data, nil
	}

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(data); err != nil {
		return nil, fmt.Errorf("compress frame: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("compress frame: %w", err)
	}
	return buf.Bytes(), nil
}

// decodeFrame parses an incoming wire message into one or more frames,
// transparently handling gzip framing and batched arrays.
func decodeFrame(data []byte) ([]frame, error) {
	if bytes.HasPrefix(data, gzipMagic) {
		gr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decompress frame: %w", err)
		}
		data, err = io.ReadAll(gr)
		gr.Close()
		if err != nil {
			return nil, fmt.Errorf("decompress frame: %w", err)
		}
	}

	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty frame")
	}

	if trimmed[0] == '[' {
		var frames []frame
		if err := json.Unmarshal(trimmed, &frames); err != nil {
			return nil, fmt.Errorf("unmarshal batch frame: %w", err)
		}
		return frames, nil
	}

	var f frame
	if err := json.Unmarshal(trimmed, &f); err != nil {
		return nil, fmt.Errorf("unmarshal frame: %w", err)
	}
	return []frame{f}, nil
}
