package main

import (
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/fieldlog/internal/entities"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/quality"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newTerminateCommand(defaults *viper.Viper) *cobra.Command {
	var (
		entityName string
		id         int64
	)
	cmd := &cobra.Command{
		Use:   "terminate",
		Short: "Control an entity and mark its data entry as finished",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDevice(cmd.Context())
			if err != nil {
				return err
			}
			defer d.Close()

			entity, err := d.load(cmd.Context(), entityName, id)
			if err != nil {
				return err
			}
			if err := d.quality.Terminate(cmd.Context(), entity); err != nil {
				var controlErr *quality.ControlError
				if errors.As(err, &controlErr) {
					for _, detail := range controlErr.Details {
						fmt.Fprintf(cmd.ErrOrStderr(), "%s\t%s\t%s\n", detail.Field, detail.Rule, detail.Message)
					}
				}
				return err
			}
			root := entity.(entities.RootEntity).Root()
			fmt.Fprintf(cmd.OutOrStdout(), "%s#%d\tterminated\t%s\n", entityName, id, entities.QualityStateOf(root))
			return nil
		},
	}
	clientFlags(cmd, defaults)
	cmd.Flags().StringVar(&entityName, "entity", entities.TripEntityName, "Entity type")
	cmd.Flags().Int64Var(&id, "id", 0, "Entity id, negative for local entities")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}
