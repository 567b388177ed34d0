package main

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const defaultServerURL = "http://127.0.0.1:8080"

func adminCmd() *cobra.Command {
	var baseURL string
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Call a running server's loopback admin endpoints",
	}
	cmd.PersistentFlags().StringVar(&baseURL, "url", defaultServerURL, "server base url")

	sub := func(use, short, method, path string) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return adminCall(cmd.OutOrStdout(), baseURL, method, path)
			},
		}
	}
	var limit int
	builds := &cobra.Command{
		Use:   "builds",
		Short: "Recent builds from the server's index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return adminCall(cmd.OutOrStdout(), baseURL, http.MethodGet, fmt.Sprintf("/admin/v1/builds?limit=%d", limit))
		},
	}
	builds.Flags().IntVar(&limit, "limit", 20, "number of builds")

	cmd.AddCommand(
		sub("state", "Print metrics and the WORLD_STATE snapshot", http.MethodGet, "/admin/v1/state"),
		sub("reset", "Restore the baseline world", http.MethodPost, "/admin/v1/reset"),
		sub("decide", "Show what the policy would build next", http.MethodGet, "/admin/v1/decide"),
		builds,
	)
	return cmd
}

func adminCall(out io.Writer, baseURL, method, path string) error {
	u := strings.TrimRight(strings.TrimSpace(baseURL), "/") + path
	req, err := http.NewRequest(method, u, nil)
	if err != nil {
		return err
	}
	cl := &http.Client{Timeout: 10 * time.Second}
	resp, err := cl.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Fprintln(out, strings.TrimSpace(string(b)))
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	return nil
}
