package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/db"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

// MaybeRunDev brings a dev database up to date on boot when
// ORDERFLOW_AUTO_MIGRATE is set. Everywhere else schema changes go through
// cmd/migrate.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}
	pool, err := client.SQL()
	if err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	m, err := New(pool, "", logg)
	if err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	logg.Info(ctx, "auto-migrate: applying embedded migrations")
	return m.Up(ctx)
}
