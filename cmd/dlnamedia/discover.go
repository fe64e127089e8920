package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"dlnamedia/internal/ssdp"
	"dlnamedia/internal/upnp"
)

func newDiscoverCmd() *cobra.Command {
	var (
		st        string
		wait      time.Duration
		localAddr string
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Search the network for UPnP devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := ssdp.Discover(st, wait, localAddr)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(devices)
			}
			if len(devices) == 0 {
				fmt.Fprintln(out, "no devices answered")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "LOCATION\tUSN\tSERVER")
			for _, d := range devices {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", d.Location, d.USN, d.Server)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&st, "st", upnp.DeviceType, "search target")
	cmd.Flags().DurationVar(&wait, "wait", 3*time.Second, "how long to collect answers")
	cmd.Flags().StringVar(&localAddr, "local-addr", "", "local address to search from")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print devices as JSON")
	return cmd
}
