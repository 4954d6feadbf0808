// internal/cache/null.go - No-op cache for serve-only mode
package cache

// NullCache discards every write and reports every tile absent.
type NullCache struct {
	baseURL string
}

// NewNullCache creates the serve-only cache.
func NewNullCache(baseURL string) *NullCache {
	return &NullCache{baseURL: baseURL}
}

func (c *NullCache) Info() string {
	return "No tile cache configured"
}

func (c *NullCache) BaseURL() string {
	if c.baseURL == "" {
		return "http://localhost:6767"
	}
	return c.baseURL
}

func (c *NullCache) Get(string) ([]byte, bool) { return nil, false }

func (c *NullCache) Put(string, []byte) error { return nil }

func (c *NullCache) Exists(string) bool { return false }
