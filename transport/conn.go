package transport

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"
)

// Conn wraps a net.Conn with the framing protocol and read/write
// deadlines, used both for the one-shot primary port (one request,
// one response, then close) and the persistent loop port.
type Conn struct {
	nc      net.Conn
	r       *bufio.Reader
	reader  *FrameReader
	Timeout time.Duration

	writeMu sync.Mutex
}

// DefaultTimeout bounds how long a single frame read/write may take
// before the connection is considered dead.
const DefaultTimeout = 5 * time.Second

// NewConn wraps nc for framed request/response exchanges.
func NewConn(nc net.Conn) *Conn {
	return &Conn{
		nc:      nc,
		r:       bufio.NewReader(nc),
		reader:  NewFrameReader(),
		Timeout: DefaultTimeout,
	}
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.nc.Close()
}

// SendRequest encodes and writes a Request frame.
func (c *Conn) SendRequest(action string, value any) error {
	return c.send(Request{Action: action, Value: value})
}

// SendResponse encodes and writes a Response frame.
func (c *Conn) SendResponse(result any) error {
	return c.send(Response{Result: result})
}

func (c *Conn) send(content any) error {
	frame, err := Encode(content)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.Timeout > 0 {
		if err := c.nc.SetWriteDeadline(time.Now().Add(c.Timeout)); err != nil {
			return err
		}
	}
	_, err = c.nc.Write(frame)
	return err
}

// ReadRequest blocks until one complete request frame arrives, reading
// from the socket as needed.
func (c *Conn) ReadRequest() (Request, error) {
	_, content, err := c.readFrame()
	if err != nil {
		return Request{}, err
	}
	var req Request
	if err := json.Unmarshal(content, &req); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return req, nil
}

// ReadResponse blocks until one complete response frame arrives.
func (c *Conn) ReadResponse() (Response, error) {
	_, content, err := c.readFrame()
	if err != nil {
		return Response{}, err
	}
	var resp Response
	if err := json.Unmarshal(content, &resp); err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return resp, nil
}

func (c *Conn) readFrame() (Header, []byte, error) {
	for {
		hdr, content, err := c.reader.Next()
		if err == nil {
			return hdr, content, nil
		}
		if err != ErrNeedMore {
			return Header{}, nil, err
		}
		if c.Timeout > 0 {
			if err := c.nc.SetReadDeadline(time.Now().Add(c.Timeout)); err != nil {
				return Header{}, nil, err
			}
		}
		chunk := make([]byte, 4096)
		n, rerr := c.r.Read(chunk)
		if n > 0 {
			c.reader.Feed(chunk[:n])
		}
		if rerr != nil {
			return Header{}, nil, rerr
		}
	}
}
