package types

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
)

var digitRuns = regexp.MustCompile(`\d+`)

// Asset is a downloadable file attached to a release
type Asset struct {
	Name        string `json:"name"`
	DownloadURL string `json:"download_url"`
	Size        int64  `json:"size"`
}

// Version is an upstream release of a node binary
type Version struct {
	Tag         string    `json:"tag"`
	Number      string    `json:"version"`
	PublishedAt time.Time `json:"published_at"`
	DownloadURL string    `json:"download_url,omitempty"`
	Notes       string    `json:"notes,omitempty"`
	Checksum    string    `json:"checksum,omitempty"`
	Assets      []Asset   `json:"assets,omitempty"`
}

// NewVersion builds a Version from a release tag
func NewVersion(tag string) Version {
	return Version{Tag: tag, Number: NormalizeVersion(tag)}
}

// NormalizeVersion strips any leading non-digit prefix from a tag, so
// "v1.2.3" and "release-1.2.3" both become "1.2.3".
func NormalizeVersion(tag string) string {
	tag = strings.TrimSpace(tag)
	idx := strings.IndexFunc(tag, unicode.IsDigit)
	if idx < 0 {
		return ""
	}
	return tag[idx:]
}

// VersionParts returns the numeric components of a version string in order
func VersionParts(s string) []int {
	runs := digitRuns.FindAllString(NormalizeVersion(s), -1)
	parts := make([]int, 0, len(runs))
	for _, r := range runs {
		n, err := strconv.Atoi(r)
		if err != nil {
			// Longer than an int; saturate rather than fail.
			n = int(^uint(0) >> 1)
		}
		parts = append(parts, n)
	}
	return parts
}

// CompareVersions orders two version strings by their digit runs. Missing
// trailing components count as zero. Returns -1, 0 or 1.
func CompareVersions(a, b string) int {
	pa, pb := VersionParts(a), VersionParts(b)
	n := len(pa)
	if len(pb) > n {
		n = len(pb)
	}

	for i := 0; i < n; i++ {
		var x, y int
		if i < len(pa) {
			x = pa[i]
		}
		if i < len(pb) {
			y = pb[i]
		}
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
	}
	return 0
}

// Compare orders v against other
func (v Version) Compare(other Version) int {
	return CompareVersions(v.Number, other.Number)
}

// NewerThan reports whether v is strictly newer than the given version string
func (v Version) NewerThan(current string) bool {
	return CompareVersions(v.Number, current) > 0
}

// MajorMinor returns the first two numeric components (missing ones are zero)
func MajorMinor(s string) (int, int) {
	parts := VersionParts(s)
	for len(parts) < 2 {
		parts = append(parts, 0)
	}
	return parts[0], parts[1]
}

func (v Version) String() string {
	if v.Tag != "" {
		return v.Tag
	}
	return v.Number
}
