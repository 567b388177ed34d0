package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"citybuilder.ai/internal/persistence/snapshot"
)

func snapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Inspect or request state snapshots",
	}
	var headerOnly bool
	inspect := &cobra.Command{
		Use:   "inspect [path]",
		Short: "Print a snapshot's header and structure mix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd.OutOrStdout(), args[0], headerOnly)
		},
	}
	inspect.Flags().BoolVar(&headerOnly, "header", false, "read only the header line")

	var baseURL string
	take := &cobra.Command{
		Use:   "take",
		Short: "Ask a running server to write a snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return adminCall(cmd.OutOrStdout(), baseURL, "POST", "/admin/v1/snapshot")
		},
	}
	take.Flags().StringVar(&baseURL, "url", defaultServerURL, "server base url")

	cmd.AddCommand(inspect, take)
	return cmd
}

func runInspect(out io.Writer, path string, headerOnly bool) error {
	if headerOnly {
		h, err := snapshot.ReadHeader(path)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "snapshot v%d seq=%d seed=%d day=%d structures=%d saved_at=%s\n",
			h.Version, h.Seq, h.Seed, h.Day, h.Structures, h.SavedAt)
		return nil
	}
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		return err
	}
	h := snap.Header
	fmt.Fprintf(out, "snapshot v%d seq=%d seed=%d day=%d structures=%d saved_at=%s\n",
		h.Version, h.Seq, h.Seed, h.Day, h.Structures, h.SavedAt)
	fmt.Fprintf(out, "reason=%s strategy=%s speed=%g resets=%d dispatched=%d completed=%d\n",
		snap.Reason, snap.Strategy, snap.Speed, snap.Counters.Resets, snap.Counters.Dispatched, snap.Counters.Completed)
	r := snap.State.Resources
	fmt.Fprintf(out, "resources power=%d water=%d food=%d population=%d morale=%d\n",
		r.Power.Net, r.Water.Net, r.Food.Net, r.Population, snap.State.Morale)

	counts := map[string]int{}
	for _, s := range snap.State.Structures {
		counts[s.Category]++
	}
	cats := make([]string, 0, len(counts))
	for c := range counts {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	for _, c := range cats {
		fmt.Fprintf(out, "  %-12s %d\n", c, counts[c])
	}
	return nil
}
