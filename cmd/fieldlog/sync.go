package main

import (
	"context"
	"fmt"
	"io"

	"github.com/MarcoPoloResearchLab/fieldlog/internal/entities"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/merge"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/synchro"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func newSyncCommand(defaults *viper.Viper) *cobra.Command {
	var entityNames []string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Promote every ready local entity to the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDevice(cmd.Context())
			if err != nil {
				return err
			}
			defer d.Close()
			return synchronizeAll(cmd.Context(), d, entityNames, cmd.OutOrStdout())
		},
	}
	clientFlags(cmd, defaults)
	cmd.Flags().StringSliceVar(&entityNames, "entity", []string{
		entities.VesselEntityName,
		entities.TripEntityName,
		entities.LandingEntityName,
		entities.DevicePositionEntityName,
	}, "Entity types to synchronize, parents first")
	return cmd
}

func synchronizeAll(ctx context.Context, d *device, entityNames []string, out io.Writer) error {
	for _, entityName := range entityNames {
		var outcomes []synchro.SyncOutcome
		err := synchro.RetryWhenOnline(ctx, d.network, func(ctx context.Context) error {
			var runErr error
			outcomes, runErr = d.sync.SynchronizeAll(ctx, entityName)
			return runErr
		}, synchro.RetryOptions{})
		if err != nil {
			return fmt.Errorf("synchronize %s: %w", entityName, err)
		}
		for _, outcome := range outcomes {
			switch {
			case outcome.Err != nil:
				d.logger.Warn("entity not synchronized",
					zap.String("entity_name", entityName),
					zap.Int64("local_id", outcome.LocalID),
					zap.Error(outcome.Err))
				fmt.Fprintf(out, "%s#%d\tfailed\t%v\n", entityName, outcome.LocalID, outcome.Err)
			default:
				remoteID, _ := entities.IDOf(outcome.Result.Committed)
				fmt.Fprintf(out, "%s#%d\t-> #%d\n", entityName, outcome.LocalID, remoteID)
				if outcome.Result.LocalCleanup != nil {
					fmt.Fprintf(out, "%s#%d\tcleanup warning\t%v\n", entityName, outcome.LocalID, outcome.Result.LocalCleanup)
				}
			}
		}
	}
	return nil
}

func newListCommand(defaults *viper.Viper) *cobra.Command {
	var (
		entityName   string
		programLabel string
		size         int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List local and remote entities as one page",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDevice(cmd.Context())
			if err != nil {
				return err
			}
			defer d.Close()

			result, err := d.lists.Load(cmd.Context(), merge.Request{
				EntityName: entityName,
				QueryName:  entityName + "s",
				Size:       size,
				SortBy:     "id",
				Filter:     entities.Filter{ProgramLabel: programLabel},
			})
			if err != nil {
				return err
			}
			if result.Offline {
				fmt.Fprintln(cmd.ErrOrStderr(), "offline: showing local data only")
			}
			for _, entity := range result.Data {
				raw, err := entities.Marshal(entity)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(raw))
			}
			return nil
		},
	}
	clientFlags(cmd, defaults)
	cmd.Flags().StringVar(&entityName, "entity", entities.TripEntityName, "Entity type")
	cmd.Flags().StringVar(&programLabel, "program", "", "Program label filter")
	cmd.Flags().IntVar(&size, "size", 20, "Page size")
	return cmd
}
