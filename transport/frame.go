// Package transport implements the length-prefixed JSON framing used
// between a host/client and a node: a 2-byte big-endian header length,
// a JSON header, and a JSON (or opaque binary) content payload.
package transport

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNeedMore indicates the buffered bytes do not yet contain a
// complete frame; the caller should read more and try again.
var ErrNeedMore = errors.New("transport: need more data")

// ErrMalformedFrame indicates the bytes read can never form a valid
// frame (missing required header fields, bad content type).
var ErrMalformedFrame = errors.New("transport: malformed frame")

// Header is the fixed JSON header preceding every frame's content.
type Header struct {
	ByteOrder       string `json:"byteorder"`
	ContentType     string `json:"content-type"`
	ContentEncoding string `json:"content-encoding"`
	ContentLength   int    `json:"content-length"`
}

// Request is the decoded content of a request frame.
type Request struct {
	Action string `json:"action"`
	Value  any    `json:"value,omitempty"`
}

// Response is the decoded content of a response frame.
type Response struct {
	Result any `json:"result"`
}

// Encode builds a complete frame: 2-byte header length, JSON header,
// JSON-encoded content.
func Encode(content any) ([]byte, error) {
	contentBytes, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("transport: encode content: %w", err)
	}
	header := Header{
		ByteOrder:       "little",
		ContentType:     "text/json",
		ContentEncoding: "utf-8",
		ContentLength:   len(contentBytes),
	}
	headerBytes, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("transport: encode header: %w", err)
	}
	if len(headerBytes) > 0xFFFF {
		return nil, fmt.Errorf("%w: header too large", ErrMalformedFrame)
	}

	var buf bytes.Buffer
	var lenPrefix [2]byte
	binary.BigEndian.PutUint16(lenPrefix[:], uint16(len(headerBytes)))
	buf.Write(lenPrefix[:])
	buf.Write(headerBytes)
	buf.Write(contentBytes)
	return buf.Bytes(), nil
}

// FrameReader accumulates bytes from a stream connection and extracts
// complete frames, mirroring the original software's Message class:
// it tolerates partial reads by retaining unconsumed bytes across
// calls to Feed.
type FrameReader struct {
	buf []byte

	headerLen  int
	haveHdrLen bool
	header     *Header
}

// NewFrameReader returns an empty FrameReader.
func NewFrameReader() *FrameReader {
	return &FrameReader{}
}

// Feed appends newly read bytes to the internal buffer.
func (f *FrameReader) Feed(b []byte) {
	f.buf = append(f.buf, b...)
}

// Next attempts to extract one complete frame's header and content
// bytes from the buffered data. It returns ErrNeedMore if the buffer
// does not yet hold a full frame; the caller should Feed more data and
// call Next again. On success the consumed bytes are removed from the
// internal buffer and the reader is reset for the next frame.
func (f *FrameReader) Next() (Header, []byte, error) {
	const protoHdrLen = 2

	if !f.haveHdrLen {
		if len(f.buf) < protoHdrLen {
			return Header{}, nil, ErrNeedMore
		}
		f.headerLen = int(binary.BigEndian.Uint16(f.buf[:protoHdrLen]))
		f.buf = f.buf[protoHdrLen:]
		f.haveHdrLen = true
	}

	if f.header == nil {
		if len(f.buf) < f.headerLen {
			return Header{}, nil, ErrNeedMore
		}
		var hdr Header
		if err := json.Unmarshal(f.buf[:f.headerLen], &hdr); err != nil {
			return Header{}, nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		if hdr.ContentType == "" || hdr.ContentEncoding == "" || hdr.ByteOrder == "" {
			return Header{}, nil, fmt.Errorf("%w: missing required header field", ErrMalformedFrame)
		}
		f.buf = f.buf[f.headerLen:]
		f.header = &hdr
	}

	if len(f.buf) < f.header.ContentLength {
		return Header{}, nil, ErrNeedMore
	}
	content := make([]byte, f.header.ContentLength)
	copy(content, f.buf[:f.header.ContentLength])
	f.buf = f.buf[f.header.ContentLength:]

	hdr := *f.header
	f.header = nil
	f.haveHdrLen = false
	return hdr, content, nil
}
