package main

import (
	"context"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/iliyamo/oauth-token-service/internal/cache"
	"github.com/iliyamo/oauth-token-service/internal/config"
	"github.com/iliyamo/oauth-token-service/internal/database"
	"github.com/iliyamo/oauth-token-service/internal/handler"
	"github.com/iliyamo/oauth-token-service/internal/middleware"
	"github.com/iliyamo/oauth-token-service/internal/repository"
	"github.com/iliyamo/oauth-token-service/internal/router"
	"github.com/iliyamo/oauth-token-service/internal/service"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	if cfg.Env == "dev" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	rdb := config.NewRedisClient()
	permCache := cache.NewRedis(rdb)

	clientRepo := repository.NewClientRepo(db)
	codeRepo := repository.NewAuthCodeRepo(db)
	refreshRepo := repository.NewRefreshTokenRepo(db)
	blacklistRepo := repository.NewBlacklistRepo(db)
	rbacRepo := repository.NewRBACRepo(db)
	userRepo := repository.NewUserRepo(db)

	clientAuth := service.NewClientAuthenticator(clientRepo)
	authorizeSvc := service.NewAuthorizeService(clientRepo, codeRepo)
	rbacSvc := service.NewRBACService(rbacRepo, permCache, time.Duration(cfg.PermCacheTTLSecs)*time.Second)
	tokenSvc := service.NewTokenService(cfg.Issuer, cfg.JWTSecret, refreshRepo, blacklistRepo, userRepo, rbacSvc)

	oauthHandler := handler.NewOAuthHandler(clientAuth, authorizeSvc, rbacSvc, tokenSvc)

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())

	rl := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb)

	router.RegisterRoutes(e)
	router.RegisterOAuth(e, oauthHandler, rl)

	go runCleanup(codeRepo, refreshRepo, blacklistRepo)

	if err := e.Start(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

// runCleanup deletes expired authorization codes, refresh tokens and
// blacklist rows on an hourly cadence so the tables stay bounded.
func runCleanup(codes *repository.AuthCodeRepo, tokens *repository.RefreshTokenRepo, blacklist *repository.BlacklistRepo) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)

		if n, err := codes.PurgeExpired(ctx); err != nil {
			log.Warn().Err(err).Msg("authorization code purge failed")
		} else if n > 0 {
			log.Info().Int64("rows", n).Msg("purged expired authorization codes")
		}
		if n, err := tokens.PurgeExpired(ctx); err != nil {
			log.Warn().Err(err).Msg("refresh token purge failed")
		} else if n > 0 {
			log.Info().Int64("rows", n).Msg("purged expired refresh tokens")
		}
		if n, err := blacklist.PurgeExpired(ctx); err != nil {
			log.Warn().Err(err).Msg("blacklist purge failed")
		} else if n > 0 {
			log.Info().Int64("rows", n).Msg("purged expired blacklist entries")
		}

		cancel()
	}
}
