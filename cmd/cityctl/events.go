package main

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	plog "citybuilder.ai/internal/persistence/log"
	"citybuilder.ai/internal/protocol"
	"citybuilder.ai/internal/sim/engine"
)

type eventsOptions struct {
	Type     string
	Epoch    int
	Day      int
	Validate bool
	Summary  bool
}

func eventsCmd() *cobra.Command {
	o := eventsOptions{Epoch: -1}
	cmd := &cobra.Command{
		Use:   "events [dir]",
		Short: "Read the per-day events-*.jsonl.zst segments in a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvents(cmd.OutOrStdout(), args[0], o)
		},
	}
	cmd.Flags().StringVar(&o.Type, "type", "", "only print events of this type")
	cmd.Flags().IntVar(&o.Epoch, "epoch", -1, "only read segments of this reset epoch")
	cmd.Flags().IntVar(&o.Day, "day", 0, "only read segments of this game day")
	cmd.Flags().BoolVar(&o.Validate, "validate", false, "check each payload against its protocol schema")
	cmd.Flags().BoolVar(&o.Summary, "summary", false, "print per-type counts instead of events")
	return cmd
}

func runEvents(out io.Writer, dir string, o eventsOptions) error {
	segs, err := plog.ListSegments(dir)
	if err != nil {
		return err
	}
	if len(segs) == 0 {
		return fmt.Errorf("no events files found in %s", dir)
	}
	counts := map[string]int{}
	for _, s := range segs {
		if o.Epoch >= 0 && s.Epoch != uint64(o.Epoch) {
			continue
		}
		if o.Day > 0 && s.Day != o.Day {
			continue
		}
		var lastSeq uint64
		err := plog.ReadSegment(s.Path, func(e engine.EventLogEntry) error {
			if e.Seq <= lastSeq {
				return fmt.Errorf("%s: seq %d not increasing (prev %d)", filepath.Base(s.Path), e.Seq, lastSeq)
			}
			if e.Epoch != s.Epoch || e.Day != s.Day {
				return fmt.Errorf("%s: seq %d is epoch %d day %d", filepath.Base(s.Path), e.Seq, e.Epoch, e.Day)
			}
			lastSeq = e.Seq
			if o.Validate {
				if _, err := protocol.Validate(e.Payload); err != nil {
					return fmt.Errorf("seq %d: %w", e.Seq, err)
				}
			}
			counts[e.Type]++
			if o.Summary || (o.Type != "" && e.Type != o.Type) {
				return nil
			}
			fmt.Fprintf(out, "%d e%d d%d %s %s %s\n", e.Seq, e.Epoch, e.Day, e.Time, e.Type, e.Payload)
			return nil
		})
		if err != nil {
			return err
		}
	}
	if o.Summary {
		types := make([]string, 0, len(counts))
		for t := range counts {
			types = append(types, t)
		}
		sort.Strings(types)
		for _, t := range types {
			fmt.Fprintf(out, "%-18s %d\n", t, counts[t])
		}
	}
	return nil
}
