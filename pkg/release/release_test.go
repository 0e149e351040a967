package release

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func releaseJSON(tag, published string, assets ...string) string {
	list := ""
	for i, a := range assets {
		if i > 0 {
			list += ","
		}
		list += fmt.Sprintf(`{"name":%q,"browser_download_url":"https://dl.example/%s","size":10}`, a, a)
	}
	return fmt.Sprintf(`{"tag_name":%q,"body":"notes for %s","published_at":%q,"assets":[%s]}`, tag, tag, published, list)
}

func testConfig(baseURL string) Config {
	cfg := DefaultConfig()
	cfg.BaseURL = baseURL
	cfg.Interval = 0
	cfg.Arch = "amd64"
	return cfg
}

func TestLatest(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/repos/piplabs/story/releases/latest" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing bearer token, got %q", r.Header.Get("Authorization"))
		}
		fmt.Fprint(w, releaseJSON("v1.3.0", "2025-06-01T10:00:00Z",
			"story_v1.3.0_darwin_arm64.tar.gz",
			"story_v1.3.0_linux_arm64.tar.gz",
			"story_v1.3.0_linux_amd64.tar.gz",
		))
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.Token = "secret"
	clk := testclock.NewClock(time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC))
	gh := NewGitHub(cfg).WithClock(clk)

	v, err := gh.Latest(context.Background(), "piplabs/story")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, "v1.3.0", v.Tag)
	assert.Equal(t, "1.3.0", v.Number)
	assert.Equal(t, "notes for v1.3.0", v.Notes)
	assert.Equal(t, "https://dl.example/story_v1.3.0_linux_amd64.tar.gz", v.DownloadURL)
	require.Len(t, v.Assets, 1)

	// Served from cache until the TTL passes.
	_, err = gh.Latest(context.Background(), "piplabs/story")
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())

	clk.Advance(6 * time.Minute)
	_, err = gh.Latest(context.Background(), "piplabs/story")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestLatestNoReleases(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	v, err := NewGitHub(testConfig(server.URL)).Latest(context.Background(), "piplabs/empty")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestLatestServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	_, err := NewGitHub(testConfig(server.URL)).Latest(context.Background(), "piplabs/story")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 403")
}

func TestListSortsNewestFirst(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "3", r.URL.Query().Get("per_page"))
		fmt.Fprintf(w, "[%s,%s,%s]",
			releaseJSON("v1.9.0", "2025-01-01T00:00:00Z"),
			releaseJSON("v1.10.0", "2025-03-01T00:00:00Z"),
			releaseJSON("v1.9.1", "2025-02-01T00:00:00Z"),
		)
	}))
	defer server.Close()

	versions, err := NewGitHub(testConfig(server.URL)).List(context.Background(), "piplabs/story", 3)
	require.NoError(t, err)
	require.Len(t, versions, 3)
	assert.Equal(t, "1.10.0", versions[0].Number)
	assert.Equal(t, "1.9.1", versions[1].Number)
	assert.Equal(t, "1.9.0", versions[2].Number)
}

func TestLookupTriesVPrefix(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/repos/piplabs/story/releases/tags/v1.2.0" {
			fmt.Fprint(w, releaseJSON("v1.2.0", "2025-01-01T00:00:00Z"))
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	gh := NewGitHub(testConfig(server.URL))

	v, err := gh.Lookup(context.Background(), "piplabs/story", "1.2.0")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, "v1.2.0", v.Tag)

	missing, err := gh.Lookup(context.Background(), "piplabs/story", "9.9.9")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestChecksumFromListing(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sums":
			fmt.Fprint(w, "abc123  story_linux_arm64.tar.gz\nDEF456  story_linux_amd64.tar.gz\n")
		default:
			fmt.Fprintf(w, `{"tag_name":"v1.0.0","published_at":"2025-01-01T00:00:00Z","assets":[
				{"name":"story_linux_amd64.tar.gz","browser_download_url":"https://dl.example/a"},
				{"name":"SHA256SUMS","browser_download_url":"%s/sums"}]}`, server.URL)
		}
	}))
	defer server.Close()

	v, err := NewGitHub(testConfig(server.URL)).Latest(context.Background(), "piplabs/story")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, "def456", v.Checksum)
}

func TestChangelog(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "[%s,%s,%s,%s]",
			releaseJSON("v1.4.0", "2025-04-01T00:00:00Z"),
			releaseJSON("v1.3.0", "2025-03-01T00:00:00Z"),
			releaseJSON("v1.2.0", "2025-02-01T00:00:00Z"),
			releaseJSON("v1.1.0", "2025-01-01T00:00:00Z"),
		)
	}))
	defer server.Close()

	changes, err := NewGitHub(testConfig(server.URL)).Changelog(context.Background(), "piplabs/story", "1.1.0", "1.3.0")
	require.NoError(t, err)

	assert.Contains(t, changes, "## 1.3.0 - 2025-03-01")
	assert.Contains(t, changes, "## 1.2.0 - 2025-02-01")
	assert.NotContains(t, changes, "1.4.0")
	assert.NotContains(t, changes, "## 1.1.0")
	assert.Less(t, strings.Index(changes, "1.3.0"), strings.Index(changes, "1.2.0"))
}

func TestMatchesArch(t *testing.T) {
	tests := []struct {
		name string
		arch string
		want bool
	}{
		{"story_linux_amd64.tar.gz", "amd64", true},
		{"geth-linux-x86_64", "amd64", true},
		{"story_linux_aarch64.tar.gz", "arm64", true},
		{"story_linux_arm64.tar.gz", "amd64", false},
		{"story_darwin_amd64.tar.gz", "amd64", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchesArch(tt.name, tt.arch))
		})
	}
}

func TestChecksumFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bin")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0644))

	sum, err := ChecksumFile(path)
	require.NoError(t, err)
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", sum)

	_, err = ChecksumFile(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
