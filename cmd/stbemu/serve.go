package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HerbHall/stbemu/internal/auth"
	"github.com/HerbHall/stbemu/internal/profile"
	"github.com/HerbHall/stbemu/internal/server"
	"github.com/HerbHall/stbemu/internal/settings"
	"github.com/HerbHall/stbemu/internal/version"
	"github.com/HerbHall/stbemu/internal/ws"
	"github.com/HerbHall/stbemu/pkg/plugin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the plugin host and the admin API",
	Long: `Initialize every discovered plugin, restore the last active profile and
serve the admin API until interrupted. Plugins are deinitialized in reverse
order on shutdown.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return withApp(ctx, func(a *app) error { return serve(ctx, a) })
	},
}

func serve(ctx context.Context, a *app) error {
	logger := a.logger
	logger.Info("stbemu starting", zap.String("version", version.Short()))

	if p, err := a.switcher.RestoreActive(ctx); err != nil {
		if !errors.Is(err, plugin.ErrProfileNotFound) {
			return fmt.Errorf("restore active profile: %w", err)
		}
		logger.Info("no profiles yet; create one with \"stbemu profiles create\"")
	} else {
		logger.Info("active profile restored", zap.String("id", p.ID), zap.String("name", p.Name))
	}

	tokens, err := tokenService(a)
	if err != nil {
		return err
	}
	var authMW server.Middleware
	if tokens != nil {
		authMW = auth.Middleware(tokens)
		logger.Info("admin API requires bearer tokens", zap.String("component", "auth"))
	} else {
		logger.Warn("auth.jwt_secret is empty; admin API is unauthenticated", zap.String("component", "auth"))
	}

	wsHandler := ws.NewHandler(tokens, a.bus, logger.Named("ws"))
	defer wsHandler.Close()

	ready := server.ReadinessChecker(func(ctx context.Context) error {
		if err := a.db.DB().PingContext(ctx); err != nil {
			return err
		}
		if a.switcher.Active() == nil && len(a.profiles.Profiles()) > 0 {
			return errors.New("no active profile")
		}
		return nil
	})

	srv := server.New(server.ConfigFrom(a.v), a.manager, logger, ready, authMW,
		settings.NewHandler(a.settings, logger.Named("settings")),
		profile.NewHandler(a.profiles, a.switcher, logger.Named("profile")),
		wsHandler,
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if p := a.switcher.Active(); p != nil {
		if err := p.Stop(shutdownCtx); err != nil {
			logger.Warn("failed to stop active profile", zap.Error(err))
		}
	}
	fmt.Fprintln(os.Stderr, "stbemu stopped")
	return nil
}

// tokenService returns nil when no signing secret is configured.
func tokenService(a *app) (*auth.TokenService, error) {
	secret := a.v.GetString("auth.jwt_secret")
	if secret == "" {
		return nil, nil
	}
	return auth.NewTokenService([]byte(secret), a.v.GetDuration("auth.token_ttl"))
}
