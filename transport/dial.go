package transport

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	http "github.com/sardanioss/http"
	"github.com/sardanioss/net/http2"
	utls "github.com/sardanioss/utls"
	"golang.org/x/net/proxy"

	"github.com/zannhost/skiplink/fingerprint"
)

const connectTimeout = 10 * time.Second

// isSOCKS reports whether proxyURL names a SOCKS5 proxy
func isSOCKS(proxyURL string) bool {
	return strings.HasPrefix(proxyURL, "socks5://") || strings.HasPrefix(proxyURL, "socks5h://")
}

// newSOCKSDialer builds a SOCKS5 dialer whose own connection to the proxy
// goes through the DNS cache
func (t *Transport) newSOCKSDialer(proxyURL string) (proxy.ContextDialer, error) {
	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, err
	}
	d, err := proxy.FromURL(u, directDialer{t})
	if err != nil {
		return nil, err
	}
	cd, ok := d.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("socks dialer for %s does not support contexts", u.Redacted())
	}
	return cd, nil
}

// directDialer adapts dialDirect to golang.org/x/net/proxy
type directDialer struct{ t *Transport }

func (d directDialer) Dial(network, addr string) (net.Conn, error) {
	return d.t.dialDirect(context.Background(), network, addr)
}

func (d directDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	return d.t.dialDirect(ctx, network, addr)
}

// plainProxy routes only cleartext requests through net/http's own HTTP
// proxy handling. HTTPS requests are tunnelled by dialTLSContext instead,
// since http.Transport would otherwise run its own TLS over the tunnel.
func (t *Transport) plainProxy(req *http.Request) (*url.URL, error) {
	if t.config.Proxy == "" || isSOCKS(t.config.Proxy) || req.URL.Scheme != "http" {
		return nil, nil
	}
	return url.Parse(t.config.Proxy)
}

// dialContext is the cleartext dialer: through SOCKS when configured,
// direct otherwise
func (t *Transport) dialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	if t.socks != nil || t.socksErr != nil {
		return t.dialSOCKS(ctx, network, addr)
	}
	return t.dialDirect(ctx, network, addr)
}

func (t *Transport) dialSOCKS(ctx context.Context, network, addr string) (net.Conn, error) {
	host, _, _ := net.SplitHostPort(addr)
	if t.socksErr != nil {
		return nil, &Error{Op: "dial_proxy", Host: host, Err: fmt.Errorf("%w: %v", ErrProxy, t.socksErr)}
	}
	conn, err := t.socks.DialContext(ctx, network, addr)
	if err != nil {
		return nil, &Error{Op: "dial_proxy", Host: host, Err: fmt.Errorf("%w: %v", ErrProxy, err)}
	}
	return conn, nil
}

// dialDirect opens a TCP connection, resolving the host through the DNS
// cache and trying each address in preference order
func (t *Transport) dialDirect(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, &Error{Op: "dial", Host: addr, Err: err}
	}

	ips, err := t.dnsCache.Addrs(ctx, host)
	if err != nil {
		return nil, &Error{Op: "dns", Host: host, Err: err}
	}

	dialer := &net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: 30 * time.Second,
	}

	var lastErr error
	for _, ip := range ips {
		conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip.String(), port))
		if err == nil {
			if tcpConn, ok := conn.(*net.TCPConn); ok {
				tcpConn.SetNoDelay(true)
			}
			return conn, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no addresses for %s", host)
	}
	if ctx.Err() == nil {
		// every address refused; look the host up again next time
		t.dnsCache.Forget(host)
	}
	return nil, &Error{Op: "dial", Host: host, Err: lastErr}
}

// dialTLSContext is the HTTP/1.1 transport's TLS dialer. It starts from the
// connection an ALPN fallback left behind when there is one.
func (t *Transport) dialTLSContext(ctx context.Context, network, addr string) (net.Conn, error) {
	if conn := t.rt.takeHandoff(addr); conn != nil {
		return conn, nil
	}
	conn, err := t.dialUTLS(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	if conn.ConnectionState().NegotiatedProtocol == http2.NextProtoTLS {
		conn.Close()
		t.rt.preferHTTP2(addr)
		host, _, _ := net.SplitHostPort(addr)
		return nil, &Error{Op: "alpn", Host: host, Err: ErrALPNChanged}
	}
	return conn, nil
}

// dialUTLS dials (optionally through a SOCKS5 or CONNECT proxy) and performs
// a uTLS handshake with the preset's ClientHello
func (t *Transport) dialUTLS(ctx context.Context, network, addr string) (*utls.UConn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, &Error{Op: "dial", Host: addr, Err: err}
	}

	var rawConn net.Conn
	switch {
	case t.socks != nil || t.socksErr != nil:
		rawConn, err = t.dialSOCKS(ctx, network, addr)
	case t.config.Proxy != "":
		rawConn, err = t.dialThroughProxy(ctx, network, host, port)
	default:
		rawConn, err = t.dialDirect(ctx, network, addr)
	}
	if err != nil {
		return nil, err
	}

	tlsConfig := &utls.Config{
		ServerName:         host,
		InsecureSkipVerify: t.config.InsecureSkipVerify,
		MinVersion:         utls.VersionTLS12,
		MaxVersion:         utls.VersionTLS13,
		NextProtos:         t.alpn(),
		KeyLogWriter:       t.config.KeyLogWriter,
	}
	if t.sessions != nil {
		tlsConfig.ClientSessionCache = t.sessions
	} else {
		tlsConfig.SessionTicketsDisabled = true
	}

	spec, err := t.clientHelloSpec()
	if err != nil {
		rawConn.Close()
		return nil, &Error{Op: "tls_handshake", Host: host, Err: err}
	}

	tlsConn := utls.UClient(rawConn, tlsConfig, utls.HelloCustom)
	if err := tlsConn.ApplyPreset(spec); err != nil {
		rawConn.Close()
		return nil, &Error{Op: "tls_handshake", Host: host, Err: err}
	}
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		rawConn.Close()
		return nil, &Error{Op: "tls_handshake", Host: host, Err: err}
	}
	return tlsConn, nil
}

func (t *Transport) alpn() []string {
	if t.config.DisableHTTP2 {
		return []string{"http/1.1"}
	}
	return []string{http2.NextProtoTLS, "http/1.1"}
}

// clientHelloSpec builds a fresh spec for one handshake, from the JA3
// override if configured and the preset otherwise
func (t *Transport) clientHelloSpec() (*utls.ClientHelloSpec, error) {
	var spec *utls.ClientHelloSpec
	if t.config.JA3 != "" {
		s, err := fingerprint.ParseJA3(t.config.JA3)
		if err != nil {
			return nil, err
		}
		spec = s
	} else {
		s, err := utls.UTLSIdToSpec(t.preset.ClientHelloID)
		if err != nil {
			return nil, fmt.Errorf("client hello %s: %w", t.preset.ClientHelloID.Str(), err)
		}
		spec = &s
	}
	if t.config.DisableHTTP2 {
		pinHTTP1(spec)
	}
	return spec, nil
}

// pinHTTP1 makes ALPN and ALPS advertise http/1.1 only
func pinHTTP1(spec *utls.ClientHelloSpec) {
	for _, ext := range spec.Extensions {
		switch e := ext.(type) {
		case *utls.ALPNExtension:
			e.AlpnProtocols = []string{"http/1.1"}
		case *utls.ApplicationSettingsExtension:
			e.SupportedProtocols = []string{"http/1.1"}
		}
	}
}

// dialThroughProxy establishes a tunnel to targetHost:targetPort with CONNECT
func (t *Transport) dialThroughProxy(ctx context.Context, network, targetHost, targetPort string) (net.Conn, error) {
	proxyURL, err := url.Parse(t.config.Proxy)
	if err != nil {
		return nil, &Error{Op: "dial_proxy", Host: targetHost, Err: fmt.Errorf("%w: invalid proxy URL: %v", ErrProxy, err)}
	}

	proxyPort := proxyURL.Port()
	if proxyPort == "" {
		if proxyURL.Scheme == "https" {
			proxyPort = "443"
		} else {
			proxyPort = "8080"
		}
	}

	conn, err := t.dialDirect(ctx, network, net.JoinHostPort(proxyURL.Hostname(), proxyPort))
	if err != nil {
		return nil, &Error{Op: "dial_proxy", Host: targetHost, Err: fmt.Errorf("%w: %v", ErrProxy, errors.Unwrap(err))}
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
		defer conn.SetDeadline(time.Time{})
	}

	targetAddr := net.JoinHostPort(targetHost, targetPort)
	connectReq := fmt.Sprintf("CONNECT %s HTTP/1.1\r\nHost: %s\r\n", targetAddr, targetAddr)
	if auth := proxyAuth(proxyURL); auth != "" {
		connectReq += fmt.Sprintf("Proxy-Authorization: Basic %s\r\n", auth)
	}
	connectReq += "Connection: keep-alive\r\n\r\n"

	if _, err := conn.Write([]byte(connectReq)); err != nil {
		conn.Close()
		return nil, &Error{Op: "dial_proxy", Host: targetHost, Err: fmt.Errorf("%w: send CONNECT: %v", ErrProxy, err)}
	}

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, &http.Request{Method: http.MethodConnect})
	if err != nil {
		conn.Close()
		return nil, &Error{Op: "dial_proxy", Host: targetHost, Err: fmt.Errorf("%w: read CONNECT response: %v", ErrProxy, err)}
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		conn.Close()
		return nil, &Error{Op: "dial_proxy", Host: targetHost, Err: fmt.Errorf("%w: CONNECT failed: %s", ErrProxy, resp.Status)}
	}

	if br.Buffered() > 0 {
		return &bufferedConn{Conn: conn, r: br}, nil
	}
	return conn, nil
}

// proxyAuth returns base64-encoded proxy credentials from the URL userinfo
func proxyAuth(proxyURL *url.URL) string {
	if proxyURL.User == nil || proxyURL.User.Username() == "" {
		return ""
	}
	password, _ := proxyURL.User.Password()
	auth := proxyURL.User.Username() + ":" + password
	return base64.StdEncoding.EncodeToString([]byte(auth))
}

// bufferedConn drains bytes the proxy sent right after its CONNECT reply
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}
