package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tournevent/uspsbridge/internal/server"
	"github.com/tournevent/uspsbridge/internal/shipment"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var version = "0.0.1"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "uspsbridge",
	Short:   "USPS carrier bridge - address validation, rates, labels and tracking",
	Version: version,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE:  runServe,
}

var updateTrackingCmd = &cobra.Command{
	Use:   "update-tracking",
	Short: "Refresh tracking for stored shipments",
	RunE:  runUpdateTracking,
}

var cleanupCacheCmd = &cobra.Command{
	Use:   "cleanup-cache",
	Short: "Delete expired rate cache entries",
	RunE:  runCleanupCache,
}

var testConnectionCmd = &cobra.Command{
	Use:   "test-connection",
	Short: "Check credentials and reachability of the USPS API",
	RunE:  runTestConnection,
}

func init() {
	updateTrackingCmd.Flags().StringSlice("tracking", nil, "Tracking numbers to refresh")
	updateTrackingCmd.Flags().Bool("all", false, "Refresh every undelivered shipment")
	updateTrackingCmd.Flags().Int("days", 7, "Refresh shipments shipped within this many days")

	rootCmd.AddCommand(serveCmd, updateTrackingCmd, cleanupCacheCmd, testConnectionCmd)
}

// withApp builds the shared dependencies, runs fn and releases them.
func withApp(cmd *cobra.Command, name string, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.WithoutCancel(ctx)); err != nil {
			a.logger.Warn("Shutdown error", zap.Error(err))
		}
	}()

	if a.tracer != nil {
		var span trace.Span
		ctx, span = a.tracer.Start(ctx, "uspsbridge."+name, trace.WithAttributes(a.cfg.Attributes()...))
		defer span.End()
	}
	return fn(ctx, a)
}

func runServe(cmd *cobra.Command, args []string) error {
	return withApp(cmd, "serve", func(ctx context.Context, a *app) error {
		a.logger.Info("Starting USPS bridge",
			zap.Int("port", a.cfg.Port),
			zap.String("version", a.cfg.Version),
			zap.String("environment", a.cfg.USPSEnvironment),
			zap.String("store", a.cfg.StoreBackend),
		)

		// Start HTTP server
		srv := server.New(server.Config{Port: a.cfg.Port}, a.registry, a.service, a.metrics, a.logger)
		if err := srv.Run(ctx); err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
}

func runUpdateTracking(cmd *cobra.Command, args []string) error {
	numbers, _ := cmd.Flags().GetStringSlice("tracking")
	all, _ := cmd.Flags().GetBool("all")
	days, _ := cmd.Flags().GetInt("days")

	return withApp(cmd, "update_tracking", func(ctx context.Context, a *app) error {
		out := cmd.OutOrStdout()
		summary, err := a.service.RefreshTracking(ctx, shipment.RefreshOptions{
			TrackingNumbers: numbers,
			All:             all,
			Days:            days,
		})
		if summary != nil {
			for _, item := range summary.Items {
				switch {
				case item.Skipped:
					fmt.Fprintf(out, "- %s: skipped\n", item.TrackingNumber)
				case item.Error != "":
					fmt.Fprintf(out, "x %s: %s\n", item.TrackingNumber, item.Error)
				default:
					fmt.Fprintf(out, "+ %s: %s\n", item.TrackingNumber, item.Status)
				}
			}
			fmt.Fprintf(out, "Updated %d shipments, %d failed, %d skipped\n",
				summary.Succeeded, summary.Failed, summary.Skipped)
		}
		return err
	})
}

func runCleanupCache(cmd *cobra.Command, args []string) error {
	return withApp(cmd, "cleanup_cache", func(ctx context.Context, a *app) error {
		res, err := a.service.CleanupCache(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d expired cache entries, %d remaining\n", res.Deleted, res.Remaining)
		return nil
	})
}

func runTestConnection(cmd *cobra.Command, args []string) error {
	return withApp(cmd, "test_connection", func(ctx context.Context, a *app) error {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Environment: %s\n", a.cfg.USPSEnvironment)

		report, err := a.usps.CheckConnection(ctx)
		if report != nil {
			if report.TokenPreview != "" {
				fmt.Fprintf(out, "Token: %s\n", report.TokenPreview)
			}
			if report.CityState != nil {
				fmt.Fprintf(out, "ZIP %s: %s, %s\n", report.CityState.Zip, report.CityState.City, report.CityState.State)
			}
			if report.Address != nil && report.Address.Standardized != nil {
				std := report.Address.Standardized
				fmt.Fprintf(out, "Address: %s, %s, %s %s\n", std.Street, std.City, std.State, std.Zip)
			}
		}
		if err != nil {
			fmt.Fprintf(out, "Connection failed: %v\n", err)
			return err
		}
		fmt.Fprintln(out, "Connection OK")
		return nil
	})
}
