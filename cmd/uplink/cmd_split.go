package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/scionproto/scion/pkg/addr"
	"github.com/spf13/cobra"

	"github.com/jbweber/homelab/uplink/internal/attachment"
	"github.com/jbweber/homelab/uplink/internal/repository"
)

func newSplitBRsCmd() *cobra.Command {
	var maxIfaces int

	cmd := &cobra.Command{
		Use:   "split-brs <ap>",
		Short: "Rebalance the border routers of an attachment point",
		Long: `Spreads the UserAS attachments of an attachment point over its border routers,
at most --max-ifaces per router. The attachment point is given by ID or by ISD-AS.
Changed hosts are deployed by the next serve run.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := cfg.InitializeDatastore()
			if err != nil {
				return err
			}
			defer ds.Close()

			st := repository.NewStore(ds.DB)
			apID, err := resolveAttachmentPoint(cmd.Context(), st, args[0])
			if err != nil {
				return err
			}
			asids, err := cfg.ASIDAllocator()
			if err != nil {
				return err
			}
			svc := attachment.NewService(ds, nil, asids, cfg.AttachmentConfig())
			result, err := svc.SplitBorderRouters(cmd.Context(), apID, maxIfaces)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !result.Changed() {
				fmt.Fprintln(out, "border routers already balanced")
				return nil
			}
			fmt.Fprintf(out, "host %d: %d interfaces moved\n", result.HostID, result.Moved)
			printRouters(out, result)
			return nil
		},
	}
	cmd.Flags().IntVar(&maxIfaces, "max-ifaces", 0, "attachments per border router (default from config)")
	return cmd
}

// printRouters lists the border routers of the host after rebalancing, followed by the
// deleted ones.
func printRouters(w io.Writer, result attachment.RebalanceResult) {
	created := make(map[int64]bool)
	for _, id := range result.Created {
		created[id] = true
	}
	change := func(id int64) string {
		if created[id] {
			return "created"
		}
		return ""
	}

	rows := [][]string{{strconv.FormatInt(result.InfraRouter, 10), "infra", change(result.InfraRouter)}}
	for _, id := range result.AttachingRouters {
		rows = append(rows, []string{strconv.FormatInt(id, 10), "attaching", change(id)})
	}
	for _, id := range result.Deleted {
		rows = append(rows, []string{strconv.FormatInt(id, 10), "", "deleted"})
	}

	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.SetHeaderLine(false)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeader([]string{"ROUTER", "ROLE", "CHANGE"})
	table.AppendBulk(rows)
	table.Render()
}

// resolveAttachmentPoint accepts an attachment point ID or the ISD-AS of its AS.
func resolveAttachmentPoint(ctx context.Context, st *repository.Store, arg string) (int64, error) {
	if id, err := strconv.ParseInt(arg, 10, 64); err == nil {
		return id, nil
	}
	ia, err := addr.ParseIA(arg)
	if err != nil {
		return 0, fmt.Errorf("attachment point must be an ID or an ISD-AS, got %q", arg)
	}
	as, err := st.ASes.FindByIA(ctx, ia)
	if err != nil {
		return 0, err
	}
	ap, err := st.AttachmentPoints.FindByAS(ctx, as.ID)
	if err != nil {
		return 0, fmt.Errorf("%s is not an attachment point: %w", ia, err)
	}
	return ap.ID, nil
}
