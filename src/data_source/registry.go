package datasource

import (
	"fmt"
	"sort"
	"sync"

	"market-streamer/src/interfaces"
	"market-streamer/src/logger"
	"market-streamer/src/models"
)

// The global registry map. Key is the vendor name (e.g., "alpaca"), value is the factory constructor.
var (
	registry = make(map[string]interfaces.ISessionConstructor)
	mu       sync.RWMutex
)

// Register is called by each vendor package's init() function.
func Register(name string, constructor interfaces.ISessionConstructor) error {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := registry[name]; exists {
		return fmt.Errorf("session constructor already registered for vendor: %s", name)
	}
	registry[name] = constructor
	return nil
}

// MustRegister is Register for init() functions; a duplicate vendor name panics.
func MustRegister(name string, constructor interfaces.ISessionConstructor) {
	if err := Register(name, constructor); err != nil {
		panic(err)
	}
}

// GetConstructor returns the constructor registered under name.
func GetConstructor(name string) (interfaces.ISessionConstructor, error) {
	mu.RLock()
	defer mu.RUnlock()
	constructor, exists := registry[name]
	if !exists {
		return nil, fmt.Errorf("unknown vendor: %s", name)
	}
	return constructor, nil
}

// Vendors lists the registered vendor names.
func Vendors() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// -----------------------------------------------------------------------------

// NewSessionFactory builds the session factory for one asset class from its vendor setting.
func NewSessionFactory(cfg *models.MAssetClassConfig, log *logger.Logger) (interfaces.ISessionFactory, error) {
	constructor, err := GetConstructor(cfg.Vendor)
	if err != nil {
		return nil, fmt.Errorf("asset class %s: %w", cfg.Name, err)
	}
	return constructor(cfg, log)
}
