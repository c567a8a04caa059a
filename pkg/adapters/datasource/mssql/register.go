package mssql

import (
	"context"

	"go.uber.org/zap"

	"github.com/ekaya-inc/golden-engine/pkg/adapters/datasource"
)

func init() {
	datasource.Register(datasource.AdapterRegistration{
		Info: datasource.AdapterInfo{
			Type:        "mssql",
			DisplayName: "Microsoft SQL Server",
			Description: "SQL Server 2016+, Azure SQL Database (SQL authentication)",
			DefaultPort: DefaultPort(),
		},
		ProfilerFactory: func(ctx context.Context, target *datasource.ConnectionTarget, connMgr *datasource.ConnectionManager, logger *zap.Logger) (datasource.SourceProfiler, error) {
			return NewProfiler(ctx, target, connMgr, logger)
		},
	})
}
