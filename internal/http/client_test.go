package http

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func testClient(proxies []string) *Client {
	return NewClient(ClientConfig{
		Proxies:   proxies,
		Retries:   2,
		Backoff:   time.Millisecond,
		MaxJitter: time.Millisecond,
		Timeout:   2 * time.Second,
	})
}

func TestFetchResilient_RetriesThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	// Proxy that forwards to the encoded target, mimicking allorigins-style
	// raw proxies.
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		target, err := url.QueryUnescape(r.URL.RawQuery[len("url="):])
		if err != nil {
			t.Errorf("bad proxy target: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		resp, err := http.Get(target)
		if err != nil {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		defer resp.Body.Close()
		w.WriteHeader(resp.StatusCode)
		buf := new(bytes.Buffer)
		buf.ReadFrom(resp.Body)
		w.Write(buf.Bytes())
	}))
	defer proxy.Close()

	c := testClient([]string{proxy.URL + "/?url="})

	body, err := c.FetchResilient(context.Background(), srv.URL, &FetchOptions{ExpectJSON: true})
	if err != nil {
		t.Fatalf("FetchResilient() error = %v", err)
	}
	if string(body) != `{"ok":true}` {
		t.Errorf("body = %q", body)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("upstream calls = %d, want 3", calls)
	}
}

func TestFetchResilient_ExhaustsRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := testClient(nil)

	_, err := c.FetchResilient(context.Background(), srv.URL, nil)
	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("error = %v, want *NetworkError", err)
	}
	if netErr.Status != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", netErr.Status)
	}
	// Retries=2 means 3 attempts total.
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestFetchResilient_TerminalAbortsImmediately(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "403 forbidden",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusForbidden)
			},
		},
		{
			name: "interstitial body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("<html><title>Just a moment...</title>Checking your browser</html>"))
			},
		},
		{
			name: "html where json expected",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("<!DOCTYPE html><html><body>oops</body></html>"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				tt.handler(w, r)
			}))
			defer srv.Close()

			c := testClient(nil)

			_, err := c.FetchResilient(context.Background(), srv.URL, &FetchOptions{ExpectJSON: true})
			var blocked *BlockedError
			if !errors.As(err, &blocked) {
				t.Fatalf("error = %v, want *BlockedError", err)
			}
			if atomic.LoadInt32(&calls) != 1 {
				t.Errorf("calls = %d, want 1 (terminal must not retry)", calls)
			}
		})
	}
}

func TestFetchResilient_ProxyRotation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	var hits [2]int32
	mkProxy := func(i int) *httptest.Server {
		return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&hits[i], 1)
			w.WriteHeader(http.StatusBadGateway)
		}))
	}
	p0 := mkProxy(0)
	defer p0.Close()
	p1 := mkProxy(1)
	defer p1.Close()

	c := NewClient(ClientConfig{
		Proxies:   []string{p0.URL + "/?url=", p1.URL + "/?url="},
		Retries:   3,
		Backoff:   time.Millisecond,
		MaxJitter: time.Millisecond,
		Timeout:   time.Second,
	})

	_, err := c.FetchResilient(context.Background(), srv.URL, nil)
	if err == nil {
		t.Fatal("expected failure")
	}

	// 4 attempts: direct, p0, p1, p0 again (fixed round-robin).
	if atomic.LoadInt32(&hits[0]) != 2 || atomic.LoadInt32(&hits[1]) != 1 {
		t.Errorf("proxy hits = %d/%d, want 2/1", hits[0], hits[1])
	}
}

func TestFetchRange(t *testing.T) {
	payload := []byte("0123456789abcdef")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "file.bin", time.Time{}, bytes.NewReader(payload))
	}))
	defer srv.Close()

	c := testClient(nil)

	got, err := c.FetchRange(context.Background(), srv.URL, 4, 7)
	if err != nil {
		t.Fatalf("FetchRange() error = %v", err)
	}
	if string(got) != "4567" {
		t.Errorf("range body = %q, want %q", got, "4567")
	}

	tail, err := c.FetchRange(context.Background(), srv.URL, 10, -1)
	if err != nil {
		t.Fatalf("FetchRange(open) error = %v", err)
	}
	if string(tail) != "abcdef" {
		t.Errorf("open range body = %q, want %q", tail, "abcdef")
	}
}

func TestFetchRange_ServerIgnoresRange(t *testing.T) {
	payload := []byte("0123456789")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload) // always 200, full body
	}))
	defer srv.Close()

	c := testClient(nil)

	got, err := c.FetchRange(context.Background(), srv.URL, 6, 8)
	if err != nil {
		t.Fatalf("FetchRange() error = %v", err)
	}
	if string(got) != "678" {
		t.Errorf("sliced body = %q, want %q", got, "678")
	}
}

func TestDownloadRangeToFile(t *testing.T) {
	payload := []byte("0123456789abcdef")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "file.bin", time.Time{}, bytes.NewReader(payload))
	}))
	defer srv.Close()

	c := testClient(nil)
	dest := filepath.Join(t.TempDir(), "tail.part")

	n, err := c.DownloadRangeToFile(context.Background(), srv.URL, 8, dest, nil)
	if err != nil {
		t.Fatalf("DownloadRangeToFile() error = %v", err)
	}
	if n != 8 {
		t.Errorf("written = %d, want 8", n)
	}
	got, _ := os.ReadFile(dest)
	if string(got) != "89abcdef" {
		t.Errorf("tail = %q", got)
	}
}

func TestDownloadFile_Progress(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB}, 64<<10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "65536")
		w.Write(payload)
	}))
	defer srv.Close()

	c := testClient(nil)
	dest := filepath.Join(t.TempDir(), "track.mp3")

	var lastWritten, lastTotal int64
	err := c.DownloadFile(context.Background(), srv.URL, dest, func(written, total int64) {
		lastWritten, lastTotal = written, total
	})
	if err != nil {
		t.Fatalf("DownloadFile() error = %v", err)
	}
	if lastWritten != int64(len(payload)) || lastTotal != int64(len(payload)) {
		t.Errorf("progress = %d/%d, want %d/%d", lastWritten, lastTotal, len(payload), len(payload))
	}
	if got, _ := os.ReadFile(dest); !bytes.Equal(got, payload) {
		t.Error("downloaded payload corrupted")
	}
}

func TestDetectBlocking(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		expectJSON bool
		blocked    bool
	}{
		{"json ok", `{"data":[]}`, true, false},
		{"audio bytes ok", "\xFF\xFB\x90\x00binary", false, false},
		{"cloudflare interstitial", "<html>Checking your browser before accessing</html>", false, true},
		{"captcha", "please solve the CAPTCHA to continue", false, true},
		{"html for json", "<!doctype html><html></html>", true, true},
		{"html allowed when not expecting json", "<!doctype html><html></html>", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason := detectBlocking([]byte(tt.body), tt.expectJSON)
			if (reason != "") != tt.blocked {
				t.Errorf("detectBlocking() = %q, blocked should be %v", reason, tt.blocked)
			}
		})
	}
}

func TestFileSize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("method = %s, want HEAD", r.Method)
		}
		w.Header().Set("Content-Length", "12345")
	}))
	defer srv.Close()

	c := testClient(nil)
	size, err := c.FileSize(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("FileSize() error = %v", err)
	}
	if size != 12345 {
		t.Errorf("size = %d, want 12345", size)
	}
}

func TestFetchResilient_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte("late"))
	}))
	defer srv.Close()

	c := testClient(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.FetchResilient(ctx, srv.URL, nil)
	if err == nil || !strings.Contains(err.Error(), "context canceled") {
		t.Errorf("error = %v, want context cancellation", err)
	}
}
