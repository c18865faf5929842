package main

import (
	"context"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/fieldlog/internal/pmfm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newPmfmsCommand(defaults *viper.Viper) *cobra.Command {
	var (
		key     pmfm.Key
		gearID  int64
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "pmfms",
		Short: "Show the measurement definitions of a program",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDevice(cmd.Context())
			if err != nil {
				return err
			}
			defer d.Close()

			cache, err := pmfm.NewScopedCache(pmfm.ScopedCacheConfig{
				Source:          d.programs,
				RequireStrategy: key.StrategyLabel != "",
				RequireGear:     gearID > 0,
				Logger:          d.logger,
			})
			if err != nil {
				return err
			}
			defer cache.Stop()

			cache.SetProgramLabel(key.ProgramLabel)
			cache.SetAcquisitionLevel(key.AcquisitionLevel)
			cache.SetStrategyLabel(key.StrategyLabel)
			if gearID > 0 {
				cache.SetGearID(&gearID)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if err := cache.Ready(ctx); err != nil {
				return fmt.Errorf("load pmfms: %w", err)
			}
			pmfms, _ := cache.Value()
			for _, item := range pmfms {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\t%s\n", item.RankOrder, item.Label, item.Type, item.Unit)
			}
			return nil
		},
	}
	clientFlags(cmd, defaults)
	cmd.Flags().StringVar(&key.ProgramLabel, "program", "", "Program label")
	cmd.Flags().StringVar(&key.AcquisitionLevel, "acquisition-level", "", "Acquisition level")
	cmd.Flags().StringVar(&key.StrategyLabel, "strategy", "", "Strategy label")
	cmd.Flags().Int64Var(&gearID, "gear", 0, "Gear id")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "How long to wait for the server")
	_ = cmd.MarkFlagRequired("program")
	_ = cmd.MarkFlagRequired("acquisition-level")
	return cmd
}
