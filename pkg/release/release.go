package release

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/sentinel/pkg/log"
	"github.com/cuemby/sentinel/pkg/types"
	"github.com/juju/clock"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is the public GitHub REST endpoint
const DefaultBaseURL = "https://api.github.com"

// Source looks up upstream releases of a repository
type Source interface {
	// Latest returns the newest release, or nil when the repository has none
	Latest(ctx context.Context, repo string) (*types.Version, error)

	// List returns up to limit releases, newest first
	List(ctx context.Context, repo string, limit int) ([]types.Version, error)

	// Lookup returns the release with the given tag, or nil when it does not exist
	Lookup(ctx context.Context, repo, tag string) (*types.Version, error)
}

// Config controls the GitHub client
type Config struct {
	BaseURL string
	Token   string

	// CacheTTL is how long Latest and List results are reused
	CacheTTL time.Duration

	// Interval is the minimum spacing between requests for one repository
	Interval time.Duration

	Timeout time.Duration

	// Arch selects release assets (default: runtime.GOARCH)
	Arch string
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		BaseURL:  DefaultBaseURL,
		CacheTTL: 5 * time.Minute,
		Interval: time.Second,
		Timeout:  10 * time.Second,
		Arch:     runtime.GOARCH,
	}
}

type cacheEntry struct {
	versions []types.Version
	expires  time.Time
}

// GitHub is a Source backed by the GitHub releases API
type GitHub struct {
	config Config
	client *http.Client
	clock  clock.Clock
	logger zerolog.Logger

	mu       sync.Mutex
	cache    map[string]cacheEntry
	limiters map[string]*rate.Limiter
}

// NewGitHub creates a new GitHub release client
func NewGitHub(config Config) *GitHub {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Arch == "" {
		config.Arch = runtime.GOARCH
	}
	return &GitHub{
		config:   config,
		client:   &http.Client{Timeout: config.Timeout},
		clock:    clock.WallClock,
		logger:   log.WithComponent("release"),
		cache:    make(map[string]cacheEntry),
		limiters: make(map[string]*rate.Limiter),
	}
}

// WithClock sets the clock used for cache expiry
func (g *GitHub) WithClock(clk clock.Clock) *GitHub {
	g.clock = clk
	return g
}

// WithHTTPClient sets a custom HTTP client
func (g *GitHub) WithHTTPClient(client *http.Client) *GitHub {
	g.client = client
	return g
}

// Latest returns the newest published release of repo
func (g *GitHub) Latest(ctx context.Context, repo string) (*types.Version, error) {
	key := "latest:" + repo
	if cached, ok := g.cached(key); ok {
		if len(cached) == 0 {
			return nil, nil
		}
		v := cached[0]
		return &v, nil
	}

	var rel githubRelease
	found, err := g.get(ctx, repo, "/repos/"+repo+"/releases/latest", &rel)
	if err != nil {
		return nil, err
	}
	if !found {
		g.store(key, nil)
		g.logger.Warn().Str("repo", repo).Msg("No releases found")
		return nil, nil
	}

	v := g.toVersion(ctx, repo, rel)
	g.store(key, []types.Version{v})
	g.logger.Info().Str("repo", repo).Str("version", v.Number).Msg("Found latest release")
	return &v, nil
}

// List returns up to limit releases of repo ordered newest first
func (g *GitHub) List(ctx context.Context, repo string, limit int) ([]types.Version, error) {
	if limit <= 0 {
		limit = 10
	}
	key := fmt.Sprintf("list:%s:%d", repo, limit)
	if cached, ok := g.cached(key); ok {
		return cached, nil
	}

	var rels []githubRelease
	path := fmt.Sprintf("/repos/%s/releases?per_page=%d", repo, limit)
	if _, err := g.get(ctx, repo, path, &rels); err != nil {
		return nil, err
	}

	versions := make([]types.Version, 0, len(rels))
	for _, rel := range rels {
		if rel.Draft {
			continue
		}
		versions = append(versions, g.toVersion(ctx, repo, rel))
	}
	sort.SliceStable(versions, func(i, j int) bool {
		return versions[i].Compare(versions[j]) > 0
	})

	g.store(key, versions)
	return versions, nil
}

// Lookup returns the release tagged tag. A bare version such as "1.2.3" is
// also tried as "v1.2.3".
func (g *GitHub) Lookup(ctx context.Context, repo, tag string) (*types.Version, error) {
	candidates := []string{tag}
	if !strings.HasPrefix(tag, "v") {
		candidates = append(candidates, "v"+tag)
	}

	for _, candidate := range candidates {
		var rel githubRelease
		found, err := g.get(ctx, repo, "/repos/"+repo+"/releases/tags/"+url.PathEscape(candidate), &rel)
		if err != nil {
			return nil, err
		}
		if found {
			v := g.toVersion(ctx, repo, rel)
			return &v, nil
		}
	}
	return nil, nil
}

// Changelog concatenates the notes of releases newer than from and no newer
// than to, newest first.
func (g *GitHub) Changelog(ctx context.Context, repo, from, to string) (string, error) {
	versions, err := g.List(ctx, repo, 50)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, v := range versions {
		if types.CompareVersions(v.Number, to) > 0 || types.CompareVersions(v.Number, from) <= 0 {
			continue
		}
		fmt.Fprintf(&b, "## %s - %s\n", v.Number, v.PublishedAt.Format("2006-01-02"))
		if v.Notes != "" {
			b.WriteString(strings.TrimSpace(v.Notes))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (g *GitHub) cached(key string) ([]types.Version, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	entry, ok := g.cache[key]
	if !ok || !g.clock.Now().Before(entry.expires) {
		return nil, false
	}
	return entry.versions, true
}

func (g *GitHub) store(key string, versions []types.Version) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cache[key] = cacheEntry{versions: versions, expires: g.clock.Now().Add(g.config.CacheTTL)}
}

func (g *GitHub) limiter(repo string) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()

	limiter, exists := g.limiters[repo]
	if !exists {
		limit := rate.Inf
		if g.config.Interval > 0 {
			limit = rate.Every(g.config.Interval)
		}
		limiter = rate.NewLimiter(limit, 1)
		g.limiters[repo] = limiter
	}
	return limiter
}

// get fetches path and decodes it into out. A 404 reports found=false.
func (g *GitHub) get(ctx context.Context, repo, path string, out interface{}) (bool, error) {
	body, status, err := g.fetch(ctx, repo, strings.TrimRight(g.config.BaseURL, "/")+path)
	if err != nil {
		return false, err
	}
	if status == http.StatusNotFound {
		return false, nil
	}
	if status < 200 || status >= 300 {
		return false, fmt.Errorf("GitHub API returned HTTP %d for %s", status, repo)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return false, fmt.Errorf("failed to decode releases of %s: %w", repo, err)
	}
	return true, nil
}

func (g *GitHub) fetch(ctx context.Context, repo, rawURL string) ([]byte, int, error) {
	if err := g.limiter(repo).Wait(ctx); err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "story-sentinel")
	if g.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+g.config.Token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query %s: %w", repo, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

type githubAsset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
	Size               int64  `json:"size"`
}

type githubRelease struct {
	TagName     string        `json:"tag_name"`
	Body        string        `json:"body"`
	Draft       bool          `json:"draft"`
	PublishedAt time.Time     `json:"published_at"`
	Assets      []githubAsset `json:"assets"`
}

func (g *GitHub) toVersion(ctx context.Context, repo string, rel githubRelease) types.Version {
	v := types.NewVersion(rel.TagName)
	v.PublishedAt = rel.PublishedAt
	v.Notes = rel.Body

	var sums *githubAsset
	for i, a := range rel.Assets {
		if isChecksumAsset(a.Name) {
			sums = &rel.Assets[i]
			continue
		}
		if !MatchesArch(a.Name, g.config.Arch) {
			continue
		}
		v.Assets = append(v.Assets, types.Asset{Name: a.Name, DownloadURL: a.BrowserDownloadURL, Size: a.Size})
	}

	if len(v.Assets) > 0 {
		v.DownloadURL = v.Assets[0].DownloadURL
		if sums != nil {
			v.Checksum = g.checksumFor(ctx, repo, sums.BrowserDownloadURL, v.Assets[0].Name)
		}
	}
	return v
}

// checksumFor reads a sha256sum style listing and returns the digest of name.
// Failures leave the checksum empty.
func (g *GitHub) checksumFor(ctx context.Context, repo, sumsURL, name string) string {
	body, status, err := g.fetch(ctx, repo, sumsURL)
	if err != nil || status != http.StatusOK {
		g.logger.Debug().Err(err).Int("status", status).Str("repo", repo).Msg("Checksum listing unavailable")
		return ""
	}

	scanner := bufio.NewScanner(strings.NewReader(string(body)))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 2 && strings.TrimPrefix(fields[1], "*") == name {
			return strings.ToLower(fields[0])
		}
	}
	return ""
}

func isChecksumAsset(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, "sha256sum") || strings.HasSuffix(lower, "checksums.txt")
}

var archAliases = map[string][]string{
	"amd64": {"amd64", "x86_64"},
	"arm64": {"arm64", "aarch64"},
}

// MatchesArch reports whether a release asset name is a linux build for arch
func MatchesArch(name, arch string) bool {
	lower := strings.ToLower(name)
	if !strings.Contains(lower, "linux") {
		return false
	}
	aliases, ok := archAliases[arch]
	if !ok {
		aliases = []string{arch}
	}
	for _, alias := range aliases {
		if strings.Contains(lower, alias) {
			return true
		}
	}
	return false
}

// ChecksumFile returns the hex SHA-256 digest of the file at path
func ChecksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
