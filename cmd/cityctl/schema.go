package main

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"citybuilder.ai/internal/protocol"
)

func schemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Protocol schema tooling",
	}
	validate := &cobra.Command{
		Use:   "validate [file|-]",
		Short: "Validate a JSON message, or one message per line, against the protocol schemas",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			return runSchemaValidate(cmd.OutOrStdout(), in)
		},
	}
	cmd.AddCommand(validate)
	return cmd
}

func runSchemaValidate(out io.Writer, in io.Reader) error {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	var n, bad int
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		n++
		base, err := protocol.Validate(line)
		if err != nil {
			bad++
			fmt.Fprintf(out, "line %d: %v\n", n, err)
			continue
		}
		fmt.Fprintf(out, "line %d: %s ok\n", n, base.Type)
	}
	if err := sc.Err(); err != nil {
		return err
	}
	if bad > 0 {
		return fmt.Errorf("%d of %d messages invalid", bad, n)
	}
	return nil
}
