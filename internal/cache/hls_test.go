package cache

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/veliu/trackcache/internal/config"
	"github.com/veliu/trackcache/internal/model"
)

func TestIsHLSPayload(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want bool
	}{
		{"media playlist", []byte("#EXTM3U\n#EXT-X-VERSION:3\n"), true},
		{"leading whitespace", []byte("\n  #EXTM3U\n"), true},
		{"mp3 frame", []byte{0xff, 0xfb, 0x90, 0x00}, false},
		{"id3 header", []byte("ID3\x04\x00"), false},
		{"empty", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isHLSPayload(tt.data); got != tt.want {
				t.Errorf("isHLSPayload() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCacheRemoteStream_ReassemblesHLS(t *testing.T) {
	segments := [][]byte{
		randomBytes(t, 32<<10),
		randomBytes(t, 32<<10),
		randomBytes(t, 24<<10),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/stream.m3u8", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "#EXTM3U\n")
		fmt.Fprint(w, "#EXT-X-VERSION:3\n")
		fmt.Fprint(w, "#EXT-X-TARGETDURATION:10\n")
		fmt.Fprint(w, "#EXT-X-MEDIA-SEQUENCE:0\n")
		for i := range segments {
			fmt.Fprintf(w, "#EXTINF:9.0,\nseg%d.ts\n", i)
		}
		fmt.Fprint(w, "#EXT-X-ENDLIST\n")
	})
	for i, seg := range segments {
		seg := seg
		mux.HandleFunc(fmt.Sprintf("/seg%d.ts", i), func(w http.ResponseWriter, r *http.Request) {
			w.Write(seg)
		})
	}
	srv := httptest.NewServer(mux)
	defer srv.Close()

	m := newTestManager(t, nil)
	key := model.TrackKey{ID: "hls", Source: model.SourceYouTube}

	path, err := m.CacheRemoteStream(context.Background(), key, srv.URL+"/stream.m3u8")
	if err != nil {
		t.Fatalf("CacheRemoteStream() error = %v", err)
	}

	waitFor(t, 10*time.Second, func() bool {
		return m.GetCacheInfo(key).IsFullyCached
	}, "hls reassembly never completed")

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := bytes.Join(segments, nil)
	if !bytes.Equal(got, want) {
		t.Fatalf("reassembled stream differs: got %d bytes, want %d", len(got), len(want))
	}
}

func TestCacheRemoteStream_HLSFirstSegmentIsSynchronous(t *testing.T) {
	// The returned path must hold playable bytes the moment the call
	// returns, same as the initial-chunk guarantee for direct streams.
	first := randomBytes(t, 16<<10)
	second := randomBytes(t, 16<<10)
	release := make(chan struct{})

	mux := http.NewServeMux()
	mux.HandleFunc("/stream.m3u8", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:10\n#EXT-X-MEDIA-SEQUENCE:0\n")
		fmt.Fprint(w, "#EXTINF:9.0,\nseg0.ts\n#EXTINF:9.0,\nseg1.ts\n#EXT-X-ENDLIST\n")
	})
	mux.HandleFunc("/seg0.ts", func(w http.ResponseWriter, r *http.Request) {
		w.Write(first)
	})
	mux.HandleFunc("/seg1.ts", func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Write(second)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	defer close(release)

	m := newTestManager(t, nil)
	key := model.TrackKey{ID: "sync-first", Source: model.SourceYouTube}

	path, err := m.CacheRemoteStream(context.Background(), key, srv.URL+"/stream.m3u8")
	if err != nil {
		t.Fatalf("CacheRemoteStream() error = %v", err)
	}

	// The second segment is still blocked, so exactly the first one must be
	// on disk already.
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("returned path not readable: %v", err)
	}
	if !bytes.Equal(got, first) {
		t.Fatalf("file right after return holds %d bytes, want the %d-byte first segment", len(got), len(first))
	}
	if info := m.GetCacheInfo(key); info.Percentage != 50 {
		t.Errorf("Percentage after first segment = %.1f, want 50", info.Percentage)
	}
}

func TestCacheRemoteStream_RefetchesTruncatedPlaylist(t *testing.T) {
	// A manifest longer than the initial ranged read must be re-fetched in
	// full before parsing, or trailing segments would be silently dropped.
	const segCount = 30
	segments := make([][]byte, segCount)
	for i := range segments {
		segments[i] = randomBytes(t, 4<<10)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/stream.m3u8", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:10\n#EXT-X-MEDIA-SEQUENCE:0\n")
		for i := range segments {
			fmt.Fprintf(w, "#EXTINF:9.0,\nsegment-%02d.ts\n", i)
		}
		fmt.Fprint(w, "#EXT-X-ENDLIST\n")
	})
	for i, seg := range segments {
		seg := seg
		mux.HandleFunc(fmt.Sprintf("/segment-%02d.ts", i), func(w http.ResponseWriter, r *http.Request) {
			w.Write(seg)
		})
	}
	srv := httptest.NewServer(mux)
	defer srv.Close()

	m := newTestManager(t, func(s *config.Settings) {
		s.InitialChunkSize = 512
	})
	key := model.TrackKey{ID: "long-manifest", Source: model.SourceYouTube}

	path, err := m.CacheRemoteStream(context.Background(), key, srv.URL+"/stream.m3u8")
	if err != nil {
		t.Fatalf("CacheRemoteStream() error = %v", err)
	}

	waitFor(t, 10*time.Second, func() bool {
		return m.GetCacheInfo(key).IsFullyCached
	}, "reassembly of long manifest never completed")

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := bytes.Join(segments, nil)
	if !bytes.Equal(got, want) {
		t.Fatalf("reassembled stream differs: got %d bytes, want %d", len(got), len(want))
	}
}

func TestCacheRemoteStream_FollowsMasterPlaylist(t *testing.T) {
	segment := randomBytes(t, 64 << 10)

	mux := http.NewServeMux()
	mux.HandleFunc("/master.m3u8", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "#EXTM3U\n")
		fmt.Fprint(w, "#EXT-X-STREAM-INF:PROGRAM-ID=1,BANDWIDTH=128000\n")
		fmt.Fprint(w, "media.m3u8\n")
	})
	mux.HandleFunc("/media.m3u8", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:10\n#EXT-X-MEDIA-SEQUENCE:0\n")
		fmt.Fprint(w, "#EXTINF:9.0,\nonly.ts\n#EXT-X-ENDLIST\n")
	})
	mux.HandleFunc("/only.ts", func(w http.ResponseWriter, r *http.Request) {
		w.Write(segment)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	m := newTestManager(t, nil)
	key := model.TrackKey{ID: "master", Source: model.SourceYouTube}

	path, err := m.CacheRemoteStream(context.Background(), key, srv.URL+"/master.m3u8")
	if err != nil {
		t.Fatalf("CacheRemoteStream() error = %v", err)
	}

	waitFor(t, 10*time.Second, func() bool {
		return m.GetCacheInfo(key).IsFullyCached
	}, "master playlist reassembly never completed")

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, segment) {
		t.Fatal("variant segment bytes corrupted")
	}
}
