package host

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/langengroup/stcl/transport"
)

// ConnectTimeout bounds how long dialing a node may take.
const ConnectTimeout = 5 * time.Second

// NodeHandle talks to one node over its primary (one-shot) and loop
// (persistent) endpoints. A primary request dials fresh each call,
// mirroring the protocol's accept-read-respond-close lifecycle; a loop
// connection is dialed once and held open from OpenLoop to CloseLoop.
type NodeHandle struct {
	Label       string
	PrimaryAddr string
	LoopAddr    string

	loopConn *transport.Conn
}

// Request sends one request over a fresh primary connection and
// returns its decoded result, or an error for a transport-level
// failure or an "Error: ..." result string the node returned.
func (h *NodeHandle) Request(ctx context.Context, action string, value any) (any, error) {
	nc, err := dial(ctx, h.PrimaryAddr)
	if err != nil {
		return nil, fmt.Errorf("host: dial %s: %w", h.Label, err)
	}
	c := transport.NewConn(nc)
	defer c.Close()

	if err := c.SendRequest(action, value); err != nil {
		return nil, fmt.Errorf("host: send %s to %s: %w", action, h.Label, err)
	}
	resp, err := c.ReadResponse()
	if err != nil {
		return nil, fmt.Errorf("host: read %s response from %s: %w", action, h.Label, err)
	}
	return checkResult(h.Label, action, resp.Result)
}

// OpenLoop dials the node's loop endpoint and sends action as the
// loop-opening request, keeping the connection for later LoopRequest/
// CloseLoop calls.
func (h *NodeHandle) OpenLoop(ctx context.Context, action string, value any) (any, error) {
	nc, err := dial(ctx, h.LoopAddr)
	if err != nil {
		return nil, fmt.Errorf("host: dial loop %s: %w", h.Label, err)
	}
	h.loopConn = transport.NewConn(nc)
	if err := h.loopConn.SendRequest(action, value); err != nil {
		return nil, fmt.Errorf("host: send %s to %s loop: %w", action, h.Label, err)
	}
	resp, err := h.loopConn.ReadResponse()
	if err != nil {
		return nil, fmt.Errorf("host: read %s loop response from %s: %w", action, h.Label, err)
	}
	return checkResult(h.Label, action, resp.Result)
}

// LoopRequest sends action over an already-open loop connection, for
// live reconfiguration (update_settings, set_dec) while a lock loop is
// running.
func (h *NodeHandle) LoopRequest(action string, value any) (any, error) {
	if h.loopConn == nil {
		return nil, fmt.Errorf("host: %s has no open loop connection", h.Label)
	}
	if err := h.loopConn.SendRequest(action, value); err != nil {
		return nil, fmt.Errorf("host: send %s to %s loop: %w", action, h.Label, err)
	}
	resp, err := h.loopConn.ReadResponse()
	if err != nil {
		return nil, fmt.Errorf("host: read %s loop response from %s: %w", action, h.Label, err)
	}
	return checkResult(h.Label, action, resp.Result)
}

// CloseLoop sends stop over the loop connection and closes it,
// matching §5's "a loop action terminates only when the controller
// sends stop; the node acknowledges and closes".
func (h *NodeHandle) CloseLoop() error {
	if h.loopConn == nil {
		return nil
	}
	_, err := h.LoopRequest("stop", nil)
	closeErr := h.loopConn.Close()
	h.loopConn = nil
	if err != nil {
		return err
	}
	return closeErr
}

func dial(ctx context.Context, addr string) (net.Conn, error) {
	d := net.Dialer{Timeout: ConnectTimeout}
	return d.DialContext(ctx, "tcp", addr)
}

func checkResult(label, action string, result any) (any, error) {
	if s, ok := result.(string); ok && len(s) > 7 && s[:7] == "Error: " {
		return nil, fmt.Errorf("host: %s on %s: %s", action, label, s[7:])
	}
	return result, nil
}

// AcquireCh implements monitor.NodeClient.
func (h *NodeHandle) AcquireCh(ctx context.Context, ch int) ([]float64, float64, error) {
	v, err := h.Request(ctx, "acquire_ch", strconv.Itoa(ch))
	if err != nil {
		return nil, 0, err
	}
	pair, ok := v.([]any)
	if !ok || len(pair) != 2 {
		return nil, 0, fmt.Errorf("host: malformed acquire_ch result from %s", h.Label)
	}
	durationMS, _ := pair[0].(float64)
	samples, err := decodeFloatSlice(pair[1])
	if err != nil {
		return nil, 0, fmt.Errorf("host: acquire_ch samples from %s: %w", h.Label, err)
	}
	return samples, durationMS, nil
}

// AcquireErrs implements monitor.NodeClient.
func (h *NodeHandle) AcquireErrs(ctx context.Context) (map[string]float64, bool, error) {
	v, err := h.Request(ctx, "acquire_errs", nil)
	if err != nil {
		return nil, false, err
	}
	if s, ok := v.(string); ok && s == "skipped" {
		return nil, true, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, false, fmt.Errorf("host: malformed acquire_errs result from %s", h.Label)
	}
	out := make(map[string]float64, len(m))
	for k, val := range m {
		f, _ := val.(float64)
		out[k] = f
	}
	return out, false, nil
}

func decodeFloatSlice(v any) ([]float64, error) {
	raw, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected array, got %T", v)
	}
	out := make([]float64, len(raw))
	for i, e := range raw {
		f, ok := e.(float64)
		if !ok {
			return nil, fmt.Errorf("element %d is %T, not a number", i, e)
		}
		out[i] = f
	}
	return out, nil
}
