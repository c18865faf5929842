package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/MarcoPoloResearchLab/fieldlog/internal/entities"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/position"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var errMissingFixPath = errors.New("device_position.fix_path is required to track positions")

func newTrackCommand(defaults *viper.Viper) *cobra.Command {
	var tripID int64
	cmd := &cobra.Command{
		Use:   "track",
		Short: "Record device positions for a trip until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTracker(cmd.Context(), tripID)
		},
	}
	clientFlags(cmd, defaults)
	cmd.Flags().Int64Var(&tripID, "trip-id", 0, "Trip the positions belong to, negative for a local trip")
	cmd.Flags().String("fix-path", "", "JSON file holding the latest GPS fix")
	cmd.Flags().Bool("mobile", defaults.GetBool("device_position.mobile"), "Treat this device as a mobile platform")
	cmd.Flags().Bool("enable", defaults.GetBool("device_position.enable"), "Enable position tracking")
	cmd.Flags().Duration("check-interval", defaults.GetDuration("device_position.check_interval"), "Position poll interval")
	cmd.Flags().Duration("save-interval", defaults.GetDuration("device_position.save_interval"), "Minimum spacing between saved positions")
	return cmd
}

func runTracker(ctx context.Context, tripID int64) error {
	d, err := openDevice(ctx)
	if err != nil {
		return err
	}
	defer d.Close()

	settings := d.config.DevicePosition
	if settings.FixPath == "" {
		return errMissingFixPath
	}
	watchdog, err := position.NewWatchdog(position.WatchdogConfig{
		Geolocation:   position.FileGeolocation{Path: settings.FixPath},
		Saver:         d.sync,
		Enabled:       settings.Enable,
		Mobile:        settings.Mobile,
		CheckInterval: settings.CheckInterval,
		SaveInterval:  settings.SaveInterval,
		Logger:        d.logger,
	})
	if err != nil {
		return err
	}
	if tripID != 0 {
		trip, err := d.load(ctx, entities.TripEntityName, tripID)
		if err != nil {
			return err
		}
		watchdog.SetOwner(entities.DevicePositionObjectTypeTrip, &tripID, trip.(entities.RootEntity).Root().Program)
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go d.network.Run(signalCtx)
	if !watchdog.Start(signalCtx) {
		d.logger.Warn("position tracking is disabled",
			zap.Bool("enable", settings.Enable),
			zap.Bool("mobile", settings.Mobile))
		return nil
	}
	defer watchdog.Stop()
	d.logger.Info("position tracking started",
		zap.Int64("trip_id", tripID),
		zap.Duration("check_interval", settings.CheckInterval),
		zap.Duration("save_interval", settings.SaveInterval))

	for mustAsk := range watchdog.MustAskGeolocation(signalCtx) {
		if mustAsk {
			d.logger.Warn("geolocation permission denied, enable location access for this device")
		}
	}
	return nil
}
