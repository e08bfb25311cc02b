package mssql

import (
	"context"

	"go.uber.org/zap"

	"github.com/rotosaurio/iacandy/pkg/adapters/datasource"
)

func init() {
	datasource.Register(datasource.DatasourceAdapterRegistration{
		Info: datasource.DatasourceAdapterInfo{
			Type:        Dialect,
			DisplayName: "Microsoft SQL Server",
			Description: "Connect to SQL Server 2016+ with SQL authentication",
		},
		Factory: func(ctx context.Context, config map[string]any, logger *zap.Logger) (datasource.Adapter, error) {
			cfg, err := FromMap(config)
			if err != nil {
				return nil, err
			}
			return NewAdapter(ctx, cfg, logger)
		},
	})
}
