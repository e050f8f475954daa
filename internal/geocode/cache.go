package geocode

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
)

// Cache stores geocoding results keyed by the normalized address string.
type Cache interface {
	Get(key string) (Result, bool)
	Put(key string, r Result) error
}

// FileCache is a Cache mirrored to a JSON file: loaded once at
// construction and rewritten on every new entry.
type FileCache struct {
	mu      sync.Mutex
	path    string
	entries map[string]Result
}

// LoadFileCache reads the cache file at path, creating an empty one (mode
// 0600) when missing. A corrupt file is logged and treated as empty rather
// than failing startup.
func LoadFileCache(path string) (*FileCache, error) {
	c := &FileCache{path: path, entries: make(map[string]Result)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if werr := os.WriteFile(path, []byte("{}"), 0600); werr != nil {
			return nil, fmt.Errorf("failed to create geocache file: %w", werr)
		}
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read geocache file: %w", err)
	}

	if err := json.Unmarshal(data, &c.entries); err != nil {
		log.Printf("failed to parse geocache file %s, starting empty: %v", path, err)
		c.entries = make(map[string]Result)
	}
	return c, nil
}

func (c *FileCache) Get(key string) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.entries[key]
	return r, ok
}

// Put stores an entry and flushes the whole cache back to disk.
func (c *FileCache) Put(key string, r Result) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = r
	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(c.path, data, 0600); err != nil {
		return fmt.Errorf("failed to flush geocache: %w", err)
	}
	return nil
}

// Len reports the number of cached entries.
func (c *FileCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
