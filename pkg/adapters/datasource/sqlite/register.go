package sqlite

import (
	"context"

	"go.uber.org/zap"

	"github.com/ekaya-inc/golden-engine/pkg/adapters/datasource"
)

func init() {
	datasource.Register(datasource.AdapterRegistration{
		Info: datasource.AdapterInfo{
			Type:        "sqlite",
			DisplayName: "SQLite",
			Description: "SQLite 3 database files (opened read-only)",
		},
		ProfilerFactory: func(ctx context.Context, target *datasource.ConnectionTarget, connMgr *datasource.ConnectionManager, logger *zap.Logger) (datasource.SourceProfiler, error) {
			return NewProfiler(ctx, target, connMgr, logger)
		},
	})
}
