package datasource

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// AdapterInfo describes a registered source adapter.
type AdapterInfo struct {
	Type        string `json:"type"`         // "postgres", "mssql", "sqlite"
	DisplayName string `json:"display_name"` // "PostgreSQL", "Microsoft SQL Server"
	Description string `json:"description"`
	DefaultPort int    `json:"default_port"`
}

// ProfilerFactoryFunc opens a profiler for a target. connMgr may be nil, in which
// case the profiler owns its connection and closes it on Close.
type ProfilerFactoryFunc func(ctx context.Context, target *ConnectionTarget, connMgr *ConnectionManager, logger *zap.Logger) (SourceProfiler, error)

// AdapterRegistration contains info + factory for one source type.
type AdapterRegistration struct {
	Info            AdapterInfo
	ProfilerFactory ProfilerFactoryFunc
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]AdapterRegistration)
)

// Register is called by each adapter's init() function.
func Register(reg AdapterRegistration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[reg.Info.Type] = reg
}

// RegisteredAdapters returns info for all registered adapters, sorted by type.
func RegisteredAdapters() []AdapterInfo {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]AdapterInfo, 0, len(registry))
	for _, reg := range registry {
		result = append(result, reg.Info)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Type < result[j].Type })
	return result
}

// GetProfilerFactory returns the factory for a source type, or nil if not registered.
func GetProfilerFactory(dbType string) ProfilerFactoryFunc {
	registryMu.RLock()
	defer registryMu.RUnlock()

	if reg, ok := registry[dbType]; ok {
		return reg.ProfilerFactory
	}
	return nil
}

// GetAdapterInfo returns the info for a source type.
func GetAdapterInfo(dbType string) (AdapterInfo, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	reg, ok := registry[dbType]
	return reg.Info, ok
}

// IsRegistered checks if an adapter type is available.
func IsRegistered(dbType string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[dbType]
	return ok
}
