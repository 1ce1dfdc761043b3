package client

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"sync"
	"testing"

	v1 "github.com/pojntfx/tremote/pkg/api/http/v1"
)

// fakeDaemon speaks the session id dance and answers with handle.
type fakeDaemon struct {
	t         *testing.T
	sessionID string

	mu       sync.Mutex
	requests []v1.Request
	headers  []http.Header
	statuses []int
	handle   func(req v1.Request) v1.Response
	onServe  func(n int)
}

func newFakeDaemon(t *testing.T, handle func(req v1.Request) v1.Response) *fakeDaemon {
	return &fakeDaemon{t: t, sessionID: "session-1", handle: handle}
}

// failNext answers the next requests with the given statuses.
func (d *fakeDaemon) failNext(statuses ...int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.statuses = append(d.statuses, statuses...)
}

func (d *fakeDaemon) rotate(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.sessionID = id
}

func (d *fakeDaemon) calls() []v1.Request {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]v1.Request{}, d.requests...)
}

func (d *fakeDaemon) sessionHeaders() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	ids := make([]string, 0, len(d.headers))
	for _, h := range d.headers {
		ids = append(ids, h.Get(v1.SessionIDHeader))
	}

	return ids
}

func (d *fakeDaemon) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		d.t.Errorf("ReadAll returned error: %v", err)
		w.WriteHeader(http.StatusInternalServerError)

		return
	}

	var req v1.Request
	if err := json.Unmarshal(body, &req); err != nil {
		d.t.Errorf("could not decode request %s: %v", body, err)
		w.WriteHeader(http.StatusBadRequest)

		return
	}

	d.mu.Lock()
	d.requests = append(d.requests, req)
	d.headers = append(d.headers, r.Header.Clone())
	n := len(d.requests)
	forced := 0
	if len(d.statuses) > 0 {
		forced, d.statuses = d.statuses[0], d.statuses[1:]
	}
	sessionID, handle, onServe := d.sessionID, d.handle, d.onServe
	d.mu.Unlock()

	if onServe != nil {
		onServe(n)
	}

	if forced != 0 {
		w.WriteHeader(forced)

		return
	}

	if r.Header.Get(v1.SessionIDHeader) != sessionID {
		w.Header().Set(v1.SessionIDHeader, sessionID)
		w.WriteHeader(http.StatusConflict)

		return
	}

	res := handle(req)
	res.Tag = req.Tag

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		d.t.Errorf("Encode returned error: %v", err)
	}
}

func success(args map[string]v1.Value) v1.Response {
	obj := v1.Object(args)

	return v1.Response{Result: v1.ResultSuccess, Arguments: &obj}
}

func torrentObject(id int64, name string, percentDone v1.Value) v1.Value {
	return v1.Object(map[string]v1.Value{
		"id":           v1.Int(id),
		"name":         v1.String(name),
		"hashString":   v1.String("abc"),
		"status":       v1.Int(4),
		"percentDone":  percentDone,
		"rateDownload": v1.Int(1024),
		"rateUpload":   v1.Int(0),
		"addedDate":    v1.Int(1700000000),
	})
}

// transmission answers like a small but complete daemon.
func transmission(rpcVersion int64) func(req v1.Request) v1.Response {
	return func(req v1.Request) v1.Response {
		switch req.Method {
		case MethodSessionGet:
			return success(map[string]v1.Value{
				"version":             v1.String("4.0.5"),
				"rpc-version":         v1.Int(rpcVersion),
				"rpc-version-minimum": v1.Int(14),
				"download-dir":        v1.String("/downloads"),
				"speed-limit-down":    v1.Int(100),
				"speed-limit-up":      v1.Int(50),
			})
		case MethodSessionStats:
			return success(map[string]v1.Value{
				"torrentCount": v1.Int(2),
				"cumulative-stats": v1.Object(map[string]v1.Value{
					"uploadedBytes":   v1.Int(10),
					"downloadedBytes": v1.Int(20),
				}),
			})
		case MethodTorrentGet:
			return success(map[string]v1.Value{
				"torrents": v1.Array(
					torrentObject(1, "debian.iso", v1.Int(76)),
					torrentObject(2, "ubuntu.iso", v1.Double(0.5)),
				),
			})
		default:
			return success(map[string]v1.Value{})
		}
	}
}

// connectProxy tunnels every CONNECT request to upstream and records the
// requested targets.
type connectProxy struct {
	upstream string

	mu      sync.Mutex
	targets []string
}

func (p *connectProxy) connects() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]string{}, p.targets...)
}

func (p *connectProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodConnect {
		w.WriteHeader(http.StatusMethodNotAllowed)

		return
	}

	p.mu.Lock()
	p.targets = append(p.targets, r.Host)
	p.mu.Unlock()

	upstream, err := net.Dial("tcp", p.upstream)
	if err != nil {
		w.WriteHeader(http.StatusBadGateway)

		return
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		_ = upstream.Close()
		w.WriteHeader(http.StatusInternalServerError)

		return
	}

	conn, _, err := hijacker.Hijack()
	if err != nil {
		_ = upstream.Close()

		return
	}

	if _, err := io.WriteString(conn, "HTTP/1.1 200 Connection established\r\n\r\n"); err != nil {
		_ = conn.Close()
		_ = upstream.Close()

		return
	}

	go func() {
		_, _ = io.Copy(upstream, conn)
		_ = upstream.Close()
	}()
	go func() {
		_, _ = io.Copy(conn, upstream)
		_ = conn.Close()
	}()
}
