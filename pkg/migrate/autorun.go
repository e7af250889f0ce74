package migrate

import (
	"context"
	"fmt"

	"github.com/accountable/accountable-backend/pkg/config"
	"github.com/accountable/accountable-backend/pkg/db"
	"github.com/accountable/accountable-backend/pkg/logger"
)

// MaybeRunDev applies the embedded migrations at boot, but only in dev with
// the auto-migrate flag on. Deployed environments run cmd/migrate instead.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}
	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("sql handle: %w", err)
	}
	m, err := New(sqlDB, Embedded())
	if err != nil {
		return err
	}
	applied, err := m.Up(ctx)
	if err != nil {
		return err
	}
	if len(applied) > 0 {
		ctx = logg.WithFields(ctx, map[string]any{"applied": len(applied), "version": applied[len(applied)-1].Version})
		logg.Info(ctx, "migrate.dev_applied")
	}
	return nil
}
