package firebird

import (
	"context"

	"go.uber.org/zap"

	"github.com/rotosaurio/iacandy/pkg/adapters/datasource"
)

func init() {
	datasource.Register(datasource.DatasourceAdapterRegistration{
		Info: datasource.DatasourceAdapterInfo{
			Type:        Dialect,
			DisplayName: "Firebird",
			Description: "Connect to Firebird 2.5+ (MicroSIP company databases)",
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
