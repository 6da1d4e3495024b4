package transport

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func jsonUnmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	frame, err := Encode(Request{Action: "acquire", Value: 3})
	require.NoError(t, err)

	fr := NewFrameReader()
	fr.Feed(frame)
	hdr, content, err := fr.Next()
	require.NoError(t, err)
	require.Equal(t, "text/json", hdr.ContentType)

	var req Request
	require.NoError(t, jsonUnmarshal(content, &req))
	require.Equal(t, "acquire", req.Action)
}

func TestFrameReaderNeedsMoreOnPartialData(t *testing.T) {
	frame, err := Encode(Response{Result: "ok"})
	require.NoError(t, err)

	fr := NewFrameReader()
	fr.Feed(frame[:3])
	_, _, err = fr.Next()
	require.ErrorIs(t, err, ErrNeedMore)

	fr.Feed(frame[3:])
	_, content, err := fr.Next()
	require.NoError(t, err)

	var resp Response
	require.NoError(t, jsonUnmarshal(content, &resp))
	require.Equal(t, "ok", resp.Result)
}

func TestFrameReaderByteByByte(t *testing.T) {
	frame, err := Encode(Request{Action: "stop"})
	require.NoError(t, err)

	fr := NewFrameReader()
	var got Header
	var content []byte
	for i, b := range frame {
		fr.Feed([]byte{b})
		h, c, err := fr.Next()
		if err == ErrNeedMore {
			require.Less(t, i, len(frame)-1)
			continue
		}
		require.NoError(t, err)
		got, content = h, c
		break
	}
	require.Equal(t, "text/json", got.ContentType)
	require.NotEmpty(t, content)
}

func TestFrameReaderHandlesTwoFramesBackToBack(t *testing.T) {
	f1, _ := Encode(Request{Action: "a"})
	f2, _ := Encode(Request{Action: "b"})

	fr := NewFrameReader()
	fr.Feed(append(f1, f2...))

	_, c1, err := fr.Next()
	require.NoError(t, err)
	var r1 Request
	require.NoError(t, jsonUnmarshal(c1, &r1))
	require.Equal(t, "a", r1.Action)

	_, c2, err := fr.Next()
	require.NoError(t, err)
	var r2 Request
	require.NoError(t, jsonUnmarshal(c2, &r2))
	require.Equal(t, "b", r2.Action)
}

func TestMalformedHeaderRejected(t *testing.T) {
	fr := NewFrameReader()
	fr.Feed([]byte{0, 4})
	fr.Feed([]byte(`{,,}`))
	_, _, err := fr.Next()
	require.ErrorIs(t, err, ErrMalformedFrame)
}
