package migrate

import (
	"context"
	"fmt"

	"github.com/venuecast/backend/pkg/config"
	"github.com/venuecast/backend/pkg/db"
	"github.com/venuecast/backend/pkg/logger"
)

// MaybeRunDev applies pending migrations at startup when running in dev
// with the auto-migrate flag on. Deployed environments migrate through
// the dedicated binary instead.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}

	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "dir": DefaultDir})
	logg.Info(ctx, "auto-applying migrations (dev)")

	if err := Run(ctx, sqlDB, DefaultDir, "up"); err != nil {
		return fmt.Errorf("running goose up: %w", err)
	}

	logg.Info(ctx, "migrations up to date")
	return nil
}
