package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newScanCmd(opts *options) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan the library once and report what was found",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, closer, err := load(opts)
			if err != nil {
				return err
			}
			defer closer.Close()

			lib, store, err := openLibrary(cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := lib.Rebuild(cmd.Context()); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			stats, _ := lib.LastStats()
			cached, err := store.CountProbedFiles(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					Stats   any `json:"stats"`
					Objects int `json:"objects"`
					Cached  int `json:"cached_probes"`
				}{stats, lib.Catalog().Len(), cached})
			}

			fmt.Fprintf(out, "roots:        %d\n", stats.Roots)
			fmt.Fprintf(out, "directories:  %s\n", humanize.Comma(int64(stats.Directories)))
			fmt.Fprintf(out, "files:        %s\n", humanize.Comma(int64(stats.Files)))
			fmt.Fprintf(out, "items:        %s\n", humanize.Comma(int64(stats.Items)))
			fmt.Fprintf(out, "excluded:     %s\n", humanize.Comma(int64(stats.Excluded)))
			fmt.Fprintf(out, "probed:       %s (%s from cache)\n", humanize.Comma(int64(stats.Probed)), humanize.Comma(int64(stats.CacheHits)))
			fmt.Fprintf(out, "objects:      %s\n", humanize.Comma(int64(lib.Catalog().Len())))
			fmt.Fprintf(out, "cached files: %s\n", humanize.Comma(int64(cached)))
			fmt.Fprintf(out, "took:         %s\n", stats.Duration.Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print stats as JSON")
	return cmd
}
