// Package bootstrap seeds operator-configurable defaults into the settings table on first run, so every well-known
// key internal/setting.Repository.Get expects has a row before any binary begins serving requests.
package bootstrap

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tollgate-bot/tollgate/internal/config"
	"github.com/tollgate-bot/tollgate/internal/setting"
)

// IsFirstRun returns true when the settings table has no rows.
func IsFirstRun(ctx context.Context, db *pgxpool.Pool) (bool, error) {
	var count int
	err := db.QueryRow(ctx, "SELECT COUNT(*) FROM settings").Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check first run: %w", err)
	}
	return count == 0, nil
}

// RunFirstInit seeds the settings table with the deployment's env-configured defaults. It is safe to call on every
// startup: SetDefaults only inserts keys that are still absent, so an operator's later edit through the admin
// surface is never clobbered by a restart.
func RunFirstInit(ctx context.Context, repo setting.Repository, cfg *config.Config) error {
	defaults := map[string]string{
		setting.KeyFilePassword:             "",
		setting.KeyVerificationPeriodHours:  strconv.Itoa(cfg.VerificationPeriodHours),
		setting.KeyFileAccessLimit:          strconv.Itoa(cfg.FileAccessLimit),
		setting.KeyShortlinkAPIKey:          cfg.ShortlinkAPIKey,
		setting.KeyShortlinkBaseURL:         cfg.ShortlinkBaseURL,
		setting.KeyHowToVerifyLink:          cfg.HowToVerifyLink,
		setting.KeyVerificationTokenTTLSecs: strconv.Itoa(int(cfg.VerificationTokenTTL / time.Second)),
		setting.KeyAutoDeleteSeconds:        strconv.Itoa(int(cfg.AutoDeleteTTL / time.Second)),
		setting.KeyMinTraversalSeconds:      strconv.Itoa(int(cfg.MinTraversalSeconds / time.Second)),
		setting.KeyMinDwellSeconds:          strconv.Itoa(int(cfg.MinDwellSeconds / time.Second)),
	}
	if err := repo.SetDefaults(ctx, defaults); err != nil {
		return fmt.Errorf("seed default settings: %w", err)
	}
	return nil
}
