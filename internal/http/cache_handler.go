package http

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/cache"
)

// CacheClearAction empties the report cache and purges the generic cache
// records kept in the application database.
func CacheClearAction(ctx *cartridge.Context) error {
	deps, err := reportDepsFrom(ctx)
	if deps == nil {
		return err
	}

	if err := deps.service.ClearCache(ctx.UserContext()); err != nil {
		ctx.Logger.Error("Failed to clear report cache", slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "Failed to clear cache"})
	}

	var purged int64
	if ctx.DBManager != nil {
		if db := ctx.DBManager.GetConnection(); db != nil {
			n, err := cache.PurgeAllCaches(db)
			if err != nil {
				ctx.Logger.Warn("Failed to purge generic caches", slog.Any("error", err))
			}
			purged = n
		}
	}

	ctx.Logger.Info("Report cache cleared", slog.Int64("generic_records_purged", purged))
	return ctx.JSON(fiber.Map{
		"success": true,
		"purged":  purged,
	})
}
