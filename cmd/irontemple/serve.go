package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/irontemple/internal/config"
	"github.com/MarcoPoloResearchLab/irontemple/internal/devremote"
	"github.com/MarcoPoloResearchLab/irontemple/internal/logging"
	"github.com/MarcoPoloResearchLab/irontemple/internal/status"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func newWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Probe connectivity and drain the queue until interrupted",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			signalCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			observer, err := status.NewObserver(status.ObserverConfig{
				Engine:       a.engine,
				Connectivity: a.connectivity,
				Events:       a.bus,
				PollInterval: a.config.PollInterval,
				OnChange: func(snapshot status.Snapshot) {
					fmt.Fprintf(out, "%s status=%s pending=%d failed=%d\n",
						time.Now().Format(time.RFC3339), snapshot.Display, snapshot.Queue.Pending, snapshot.Queue.Failed)
				},
				Logger: a.logger,
			})
			if err != nil {
				return err
			}

			a.probe(signalCtx)
			group, groupCtx := errgroup.WithContext(signalCtx)
			group.Go(func() error {
				a.prober.Watch(groupCtx, a.config.PollInterval, a.connectivity)
				return nil
			})
			group.Go(func() error {
				return observer.Run(groupCtx)
			})
			err = group.Wait()
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}),
	}
}

func newRemoteCommand() *cobra.Command {
	var (
		failNext   int
		failStatus int
	)
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Serve a development remote authority over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			if err := appConfig.RequireDevSigningSecret(); err != nil {
				return err
			}
			logger, err := logging.NewLogger(appConfig.LogLevel, logging.FormatJSON)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			tokens, err := devremote.NewTokenIssuer(devremote.TokenIssuerConfig{SigningSecret: []byte(appConfig.DevSigningSecret)})
			if err != nil {
				return err
			}
			faults := &devremote.Faults{}
			if failNext > 0 {
				faults.FailNext(failNext, failStatus)
			}
			handler, err := devremote.NewHTTPHandler(devremote.Dependencies{
				Tokens: tokens,
				Store:  devremote.NewMemoryStore(),
				Faults: faults,
				Logger: logger,
			})
			if err != nil {
				return err
			}

			httpServer := &http.Server{
				Addr:    appConfig.DevRemoteAddress,
				Handler: handler,
			}

			signalCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				logger.Info("dev remote starting", zap.String("address", appConfig.DevRemoteAddress))
				err := httpServer.ListenAndServe()
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case <-signalCtx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				return httpServer.Shutdown(shutdownCtx)
			case err := <-errCh:
				return err
			}
		},
	}
	cmd.Flags().String("address", config.NewViper().GetString("devremote.address"), "HTTP listen address")
	cmd.Flags().String("signing-secret", "", "Token signing secret (overrides env)")
	cmd.Flags().IntVar(&failNext, "fail-next", 0, "Fail the next N workout requests")
	cmd.Flags().IntVar(&failStatus, "fail-status", http.StatusServiceUnavailable, "Status code returned by injected failures")
	bindLocalFlag(cmd, "devremote.address", "address")
	bindLocalFlag(cmd, "devremote.signing_secret", "signing-secret")
	return cmd
}

func bindLocalFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
		panic(err)
	}
}
