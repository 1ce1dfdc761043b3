package client

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"
)

var ErrProxyTunnel = errors.New("could not open proxy tunnel")

type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// tunnel dials addr through the proxy chosen for it, or directly if there is
// none. Secure endpoints use it below the trust evaluator so that proxied
// handshakes are evaluated too.
func tunnel(dialer *net.Dialer, proxy func(*http.Request) (*url.URL, error)) dialFunc {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		var proxyURL *url.URL
		if proxy != nil {
			u, err := proxy(&http.Request{URL: &url.URL{Scheme: "https", Host: addr}})
			if err != nil {
				return nil, fmt.Errorf("resolve proxy: %w", err)
			}

			proxyURL = u
		}

		if proxyURL == nil {
			return dialer.DialContext(ctx, network, addr)
		}

		return connect(ctx, dialer, network, proxyURL, addr)
	}
}

func connect(ctx context.Context, dialer *net.Dialer, network string, proxyURL *url.URL, addr string) (net.Conn, error) {
	if proxyURL.Scheme != "http" && proxyURL.Scheme != "" {
		return nil, fmt.Errorf("%w: unsupported proxy scheme %q", ErrProxyTunnel, proxyURL.Scheme)
	}

	proxyAddr := proxyURL.Host
	if proxyURL.Port() == "" {
		proxyAddr = net.JoinHostPort(proxyURL.Hostname(), "80")
	}

	conn, err := dialer.DialContext(ctx, network, proxyAddr)
	if err != nil {
		return nil, err
	}

	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: addr},
		Host:   addr,
		Header: http.Header{},
	}
	if user := proxyURL.User; user != nil {
		password, _ := user.Password()
		req.Header.Set("Proxy-Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(user.Username()+":"+password)))
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})

	br := bufio.NewReader(conn)
	res, err := func() (*http.Response, error) {
		if err := req.Write(conn); err != nil {
			return nil, err
		}

		return http.ReadResponse(br, req)
	}()

	if !stop() {
		_ = conn.Close()

		return nil, ctx.Err()
	}
	_ = conn.SetDeadline(time.Time{})

	if err != nil {
		_ = conn.Close()

		return nil, fmt.Errorf("%w to %s via %s: %v", ErrProxyTunnel, addr, proxyAddr, err)
	}

	if res.StatusCode != http.StatusOK {
		_ = conn.Close()

		return nil, fmt.Errorf("%w to %s via %s: %s", ErrProxyTunnel, addr, proxyAddr, res.Status)
	}

	if br.Buffered() > 0 {
		return &bufferedConn{Conn: conn, r: br}, nil
	}

	return conn, nil
}

// bufferedConn replays bytes the proxy sent right after its CONNECT reply.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}
