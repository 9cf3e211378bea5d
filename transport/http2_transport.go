package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	http "github.com/sardanioss/http"
	"github.com/sardanioss/net/http2"
	"golang.org/x/sync/singleflight"
)

// roundTripper routes https requests by the protocol the server selected
// in ALPN: HTTP/2 over a pooled client connection, or HTTP/1.1 through the
// wrapped http.Transport, which then starts from the already-handshaken
// connection. Plain http always goes to HTTP/1.1.
type roundTripper struct {
	t  *Transport
	h1 *http.Transport
	h2 *http2.Transport // nil when HTTP/2 is disabled

	dials singleflight.Group

	mu      sync.Mutex
	conns   map[string]*http2.ClientConn
	h1Hosts map[string]bool
	handoff map[string][]net.Conn
}

func newRoundTripper(t *Transport, h1 *http.Transport) *roundTripper {
	r := &roundTripper{
		t:       t,
		h1:      h1,
		conns:   make(map[string]*http2.ClientConn),
		h1Hosts: make(map[string]bool),
		handoff: make(map[string][]net.Conn),
	}
	if !t.config.DisableHTTP2 {
		s := t.h2Settings
		r.h2 = &http2.Transport{
			DisableCompression:        true,
			MaxHeaderListSize:         s.MaxHeaderListSize,
			MaxReadFrameSize:          s.MaxFrameSize,
			MaxDecoderHeaderTableSize: s.HeaderTableSize,
			MaxEncoderHeaderTableSize: s.HeaderTableSize,
			IdleConnTimeout:           90 * time.Second,
			ReadIdleTimeout:           30 * time.Second,
			PingTimeout:               15 * time.Second,
		}
	}
	return r
}

// RoundTrip implements http.RoundTripper
func (r *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if r.h2 == nil || req.URL.Scheme != "https" {
		return r.h1.RoundTrip(req)
	}

	addr := canonicalAddr(req.URL.Hostname(), req.URL.Port())
	cc, err := r.clientConn(req.Context(), addr)
	if err != nil {
		return nil, err
	}
	if cc == nil {
		resp, err := r.h1.RoundTrip(req)
		if errors.Is(err, ErrALPNChanged) {
			// the host moved to h2 since it was marked HTTP/1.1 only
			return r.RoundTrip(req)
		}
		return resp, err
	}

	// a failed stream does not close the connection other requests share
	resp, err := cc.RoundTrip(req)
	if err != nil && !cc.CanTakeNewRequest() {
		r.forget(addr, cc)
	}
	return resp, err
}

func canonicalAddr(host, port string) string {
	if port == "" {
		port = "443"
	}
	return net.JoinHostPort(host, port)
}

// clientConn returns a usable HTTP/2 connection to addr, or nil when the
// host speaks HTTP/1.1 only. Concurrent callers share one dial; the dial
// runs detached from any single caller's context.
func (r *roundTripper) clientConn(ctx context.Context, addr string) (*http2.ClientConn, error) {
	if cc, known := r.pooled(addr); known {
		return cc, nil
	}

	ch := r.dials.DoChan(addr, func() (any, error) {
		// a dial that finished just before this one started already pooled
		if cc, known := r.pooled(addr); known {
			return cc, nil
		}
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.t.config.Timeout)
		defer cancel()
		return r.dial(dctx, addr)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		cc, _ := res.Val.(*http2.ClientConn)
		return cc, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// pooled returns the usable connection to addr, or known=true with a nil
// connection when addr speaks HTTP/1.1 only
func (r *roundTripper) pooled(addr string) (cc *http2.ClientConn, known bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.h1Hosts[addr] {
		return nil, true
	}
	if cc := r.conns[addr]; cc != nil {
		if cc.CanTakeNewRequest() {
			return cc, true
		}
		delete(r.conns, addr)
		// streams in flight finish before it closes
		go cc.Shutdown(context.Background())
	}
	return nil, false
}

// dial performs the handshake offering the preset's ALPN. A server that
// picks http/1.1 gets the connection handed to the HTTP/1.1 transport.
func (r *roundTripper) dial(ctx context.Context, addr string) (*http2.ClientConn, error) {
	conn, err := r.t.dialUTLS(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	host, _, _ := net.SplitHostPort(addr)

	if conn.ConnectionState().NegotiatedProtocol != http2.NextProtoTLS {
		r.mu.Lock()
		r.h1Hosts[addr] = true
		r.handoff[addr] = append(r.handoff[addr], conn)
		r.mu.Unlock()
		return nil, nil
	}

	cc, err := r.h2.NewClientConn(newPrefaceConn(conn, r.t.h2Settings))
	if err != nil {
		conn.Close()
		return nil, &Error{Op: "http2_setup", Host: host, Err: err}
	}
	r.mu.Lock()
	r.conns[addr] = cc
	r.mu.Unlock()
	return cc, nil
}

// takeHandoff returns a connection left by dial for addr, if any
func (r *roundTripper) takeHandoff(addr string) net.Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	conns := r.handoff[addr]
	if len(conns) == 0 {
		return nil
	}
	conn := conns[0]
	if len(conns) == 1 {
		delete(r.handoff, addr)
	} else {
		r.handoff[addr] = conns[1:]
	}
	return conn
}

// preferHTTP2 forgets that addr speaks HTTP/1.1 only
func (r *roundTripper) preferHTTP2(addr string) {
	r.mu.Lock()
	delete(r.h1Hosts, addr)
	r.mu.Unlock()
}

func (r *roundTripper) forget(addr string, cc *http2.ClientConn) {
	r.mu.Lock()
	if r.conns[addr] == cc {
		delete(r.conns, addr)
	}
	r.mu.Unlock()
	go cc.Shutdown(context.Background())
}

// closeIdle closes every pooled and handed-off connection
func (r *roundTripper) closeIdle() {
	r.mu.Lock()
	conns := r.conns
	handoff := r.handoff
	r.conns = make(map[string]*http2.ClientConn)
	r.handoff = make(map[string][]net.Conn)
	r.mu.Unlock()

	for _, cc := range conns {
		cc.Close()
	}
	for _, list := range handoff {
		for _, conn := range list {
			conn.Close()
		}
	}
	r.h1.CloseIdleConnections()
}
