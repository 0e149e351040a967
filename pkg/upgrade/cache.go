package upgrade

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/sentinel/pkg/types"
)

// UnknownVersion is reported when a binary's version has never been read
const UnknownVersion = "unknown"

type cachedVersion struct {
	version string
	readAt  time.Time
}

// VersionCache remembers the last version read from each component's
// installed binary. A failed read keeps the previous value.
type VersionCache struct {
	reader VersionReader

	mu       sync.RWMutex
	versions map[types.Component]cachedVersion
}

// NewVersionCache creates an empty cache reading through reader
func NewVersionCache(reader VersionReader) *VersionCache {
	return &VersionCache{
		reader:   reader,
		versions: make(map[types.Component]cachedVersion),
	}
}

// Get returns the cached version of component and when it was read
func (c *VersionCache) Get(component types.Component) (string, time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.versions[component]
	return v.version, v.readAt, ok
}

// Refresh reads the installed version of svc. On failure the last known
// version (or UnknownVersion) is returned along with the error.
func (c *VersionCache) Refresh(ctx context.Context, svc types.ServiceIdentity) (string, error) {
	version, err := c.reader.Read(ctx, svc.BinaryPath, svc.VersionArgs)
	if err != nil {
		if last, _, ok := c.Get(svc.Component); ok {
			return last, err
		}
		return UnknownVersion, err
	}

	c.mu.Lock()
	c.versions[svc.Component] = cachedVersion{version: version, readAt: time.Now()}
	c.mu.Unlock()
	return version, nil
}

// Invalidate forgets the cached version of component
func (c *VersionCache) Invalidate(component types.Component) {
	c.mu.Lock()
	delete(c.versions, component)
	c.mu.Unlock()
}
