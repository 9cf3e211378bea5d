package transport

import (
	"bytes"
	"encoding/binary"
	"net"
	"sync"

	"github.com/sardanioss/net/http2"
	utls "github.com/sardanioss/utls"

	"github.com/zannhost/skiplink/fingerprint"
)

// HTTP/2 frame types and flags the rewriter looks at
const (
	frameTypeHeaders      = 0x1
	frameTypeSettings     = 0x4
	frameTypeWindowUpdate = 0x8

	flagSettingsAck = 0x1
	flagPadded      = 0x8
	flagPriority    = 0x20

	frameHeaderLen = 9
	// peer default SETTINGS_MAX_FRAME_SIZE
	defaultMaxFrameSize = 16384
)

// prefaceConn rewrites the client side of an HTTP/2 connection so it looks
// like the preset's browser: the first SETTINGS and WINDOW_UPDATE frames are
// replaced with the preset's, and HEADERS frames carry its stream priority.
// Header blocks are forwarded byte for byte so HPACK state on both ends
// stays in sync; header order comes from the request itself.
type prefaceConn struct {
	net.Conn
	settings fingerprint.HTTP2Settings

	mu            sync.Mutex
	buf           bytes.Buffer
	wrotePreface  bool
	wroteSettings bool
	wroteWindow   bool
}

func newPrefaceConn(conn net.Conn, settings fingerprint.HTTP2Settings) *prefaceConn {
	return &prefaceConn{Conn: conn, settings: settings}
}

// ConnectionState exposes the TLS state to the http2 client connection
func (c *prefaceConn) ConnectionState() utls.ConnectionState {
	if u, ok := c.Conn.(*utls.UConn); ok {
		return u.ConnectionState()
	}
	return utls.ConnectionState{}
}

// Write buffers p until whole frames are available and forwards them,
// rewritten where needed. The framer always flushes on a frame boundary,
// so nothing stays buffered between flushes.
func (c *prefaceConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.buf.Write(p)

	if !c.wrotePreface {
		if c.buf.Len() < len(http2.ClientPreface) {
			return len(p), nil
		}
		if _, err := c.Conn.Write(c.buf.Next(len(http2.ClientPreface))); err != nil {
			return 0, err
		}
		c.wrotePreface = true
	}

	for c.buf.Len() >= frameHeaderLen {
		data := c.buf.Bytes()
		length := int(data[0])<<16 | int(data[1])<<8 | int(data[2])
		size := frameHeaderLen + length
		if len(data) < size {
			break
		}
		if _, err := c.Conn.Write(c.rewrite(data[:size])); err != nil {
			return 0, err
		}
		c.buf.Next(size)
	}
	return len(p), nil
}

func (c *prefaceConn) rewrite(frame []byte) []byte {
	switch frame[3] {
	case frameTypeSettings:
		if !c.wroteSettings && frame[4]&flagSettingsAck == 0 {
			c.wroteSettings = true
			return settingsFrame(c.settings)
		}
	case frameTypeWindowUpdate:
		if !c.wroteWindow && frameStreamID(frame) == 0 {
			c.wroteWindow = true
			if c.settings.ConnectionWindowUpdate > 0 {
				return windowUpdateFrame(c.settings.ConnectionWindowUpdate)
			}
		}
	case frameTypeHeaders:
		if c.settings.StreamWeight > 0 && !c.settings.NoRFC7540Priorities {
			return withPriority(frame, c.settings)
		}
	}
	return frame
}

func frameStreamID(frame []byte) uint32 {
	return binary.BigEndian.Uint32(frame[5:9]) & 0x7fffffff
}

func frameHeader(length int, typ, flags byte, streamID uint32) []byte {
	h := make([]byte, frameHeaderLen, frameHeaderLen+length)
	h[0] = byte(length >> 16)
	h[1] = byte(length >> 8)
	h[2] = byte(length)
	h[3] = typ
	h[4] = flags
	binary.BigEndian.PutUint32(h[5:9], streamID)
	return h
}

// settingsFrame builds the preset's SETTINGS frame
func settingsFrame(s fingerprint.HTTP2Settings) []byte {
	params := s.Settings()
	frame := frameHeader(6*len(params), frameTypeSettings, 0, 0)
	for _, p := range params {
		frame = binary.BigEndian.AppendUint16(frame, p.ID)
		frame = binary.BigEndian.AppendUint32(frame, p.Val)
	}
	return frame
}

// windowUpdateFrame builds a connection-level WINDOW_UPDATE
func windowUpdateFrame(increment uint32) []byte {
	frame := frameHeader(4, frameTypeWindowUpdate, 0, 0)
	return binary.BigEndian.AppendUint32(frame, increment&0x7fffffff)
}

// withPriority adds the PRIORITY fields to a HEADERS frame that has none.
// Frames that would outgrow the peer's default frame size pass unchanged.
func withPriority(frame []byte, s fingerprint.HTTP2Settings) []byte {
	flags := frame[4]
	payload := frame[frameHeaderLen:]
	if flags&flagPriority != 0 || len(payload)+5 > defaultMaxFrameSize {
		return frame
	}

	// pad length byte stays first
	var pad []byte
	if flags&flagPadded != 0 {
		if len(payload) == 0 {
			return frame
		}
		pad, payload = payload[:1], payload[1:]
	}

	dep := uint32(0)
	if s.StreamExclusive {
		dep |= 1 << 31
	}

	out := frameHeader(len(frame)-frameHeaderLen+5, frameTypeHeaders, flags|flagPriority, frameStreamID(frame))
	out = append(out, pad...)
	out = binary.BigEndian.AppendUint32(out, dep)
	out = append(out, byte(s.StreamWeight-1))
	return append(out, payload...)
}
