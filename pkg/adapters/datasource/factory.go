package datasource

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/golden-engine/pkg/apperrors"
)

// ProfilerFactory creates source profilers from the adapter registry.
type ProfilerFactory interface {
	// NewProfiler opens a catalog-guarded profiler for target.
	NewProfiler(ctx context.Context, target *ConnectionTarget) (SourceProfiler, error)

	// ListTypes returns info for all registered adapter types.
	ListTypes() []AdapterInfo
}

type registryFactory struct {
	connMgr *ConnectionManager
	logger  *zap.Logger
}

// NewProfilerFactory returns a factory backed by the global registry.
// connMgr may be nil for one-shot use (each profiler then owns its connection).
func NewProfilerFactory(connMgr *ConnectionManager, logger *zap.Logger) ProfilerFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &registryFactory{connMgr: connMgr, logger: logger}
}

var _ ProfilerFactory = (*registryFactory)(nil)

func (f *registryFactory) NewProfiler(ctx context.Context, target *ConnectionTarget) (SourceProfiler, error) {
	factory := GetProfilerFactory(target.Type)
	if factory == nil {
		return nil, fmt.Errorf("%w: %s (not compiled in)", apperrors.ErrUnsupportedSourceType, target.Type)
	}
	p, err := factory(ctx, target, f.connMgr, f.logger.With(zap.String("db_type", target.Type)))
	if err != nil {
		return nil, err
	}
	return NewCatalogGuard(p), nil
}

func (f *registryFactory) ListTypes() []AdapterInfo {
	return RegisteredAdapters()
}
