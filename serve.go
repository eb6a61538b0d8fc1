package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"library-circulation/internal/idempotency"
	"library-circulation/internal/metrics"
	"library-circulation/internal/session"
	"library-circulation/internal/web"
	"library-circulation/library"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		addr          string
		secureCookies bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the staff web interface",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context(), addr, secureCookies)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides LIBRARY_ADDR)")
	cmd.Flags().BoolVar(&secureCookies, "secure-cookies", false, "mark session cookies Secure (behind TLS)")
	return cmd
}

func (a *app) serve(ctx context.Context, addr string, secureCookies bool) error {
	if addr != "" {
		a.cfg.Addr = addr
	}
	if a.cfg.JWTSecret == "" {
		return errors.New("LIBRARY_JWT_SECRET must be set to serve")
	}

	m := metrics.New()
	mgr, err := a.open(library.WithObserver(m))
	if err != nil {
		return err
	}
	defer mgr.Close()

	if a.cfg.AdminPassword != "" {
		created, err := mgr.EnsureAdmin(ctx, a.cfg.AdminEmail, a.cfg.AdminPassword)
		if err != nil {
			return fmt.Errorf("seed admin: %w", err)
		}
		if created {
			a.log.WithField("email", a.cfg.AdminEmail).Info("created admin account")
		}
	}

	idem, err := idempotency.Open(a.cfg.IdempotencyFile())
	if err != nil {
		return fmt.Errorf("open idempotency store: %w", err)
	}
	defer idem.Close()
	if n, err := idem.Prune(time.Now().Add(-a.cfg.IdempotencyTTL)); err != nil {
		a.log.WithError(err).Warn("prune idempotency store")
	} else if n > 0 {
		a.log.WithField("removed", n).Info("pruned stale submissions")
	}

	gate, err := session.NewGate(a.cfg.JWTSecret, a.cfg.SessionTTL)
	if err != nil {
		return err
	}
	gate.SecureCookies(secureCookies)

	srv, err := web.New(web.Options{
		Library:     mgr,
		Gate:        gate,
		Limiter:     session.NewLoginLimiter(a.cfg.LoginRate, a.cfg.LoginBurst),
		Idempotency: idem,
		Metrics:     m,
		Logger:      a.log,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              a.cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		a.log.WithFields(logrus.Fields{"addr": a.cfg.Addr, "db": a.cfg.DBPath}).Info("listening")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	a.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
