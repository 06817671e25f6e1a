package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jbweber/homelab/uplink/internal/seed"
)

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file.yaml>",
		Short: "Load an infrastructure topology",
		Long: `Creates the ASes, hosts, attachment points and links described in a YAML
seed file. The file is applied in one transaction: on any error nothing is written.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			topo, err := seed.Load(args[0])
			if err != nil {
				return err
			}
			ds, err := cfg.InitializeDatastore()
			if err != nil {
				return err
			}
			defer ds.Close()

			result, err := seed.Apply(cmd.Context(), ds, topo)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d ASes, %d hosts, %d attachment points, %d links\n",
				len(result.ASes), len(result.Hosts), len(result.AttachmentPoints), len(result.Links))
			return nil
		},
	}
}
