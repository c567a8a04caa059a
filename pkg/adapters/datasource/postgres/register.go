package postgres

import (
	"context"

	"go.uber.org/zap"

	"github.com/ekaya-inc/golden-engine/pkg/adapters/datasource"
)

func init() {
	datasource.Register(datasource.AdapterRegistration{
		Info: datasource.AdapterInfo{
			Type:        "postgres",
			DisplayName: "PostgreSQL",
			Description: "PostgreSQL 12+, Aurora PostgreSQL, Supabase",
			DefaultPort: DefaultPort(),
		},
		ProfilerFactory: func(ctx context.Context, target *datasource.ConnectionTarget, connMgr *datasource.ConnectionManager, logger *zap.Logger) (datasource.SourceProfiler, error) {
			return NewProfiler(ctx, target, connMgr, logger)
		},
	})
}
