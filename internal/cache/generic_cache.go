// Handles raw storage of cached entries
package cache

// GenericCache interface for caching operations.
// Implementations must be safe for concurrent use.
type GenericCache interface {
	// retrieves cached data if it exists.
	// returns nil, nil when not found
	Get(key string) ([]byte, error)
	// stores data under the given key, replacing any previous value
	Set(key string, value []byte) error
	// removes the value stored under key. Removing a missing key is not an error
	Delete(key string) error
	// lists every stored key
	Keys() ([]string, error)
	// initializes the cache (e.g., creates necessary directories)
	Init() error
	// removes every stored value and the cache itself
	Clear() error
}
