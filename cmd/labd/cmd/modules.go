package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/labmodular"
	"github.com/GoCodeAlone/labmodular/admin"
)

// NewModulesCommand creates the modules command.
func NewModulesCommand() *cobra.Command {
	var (
		adminURL string
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "modules",
		Short: "List the modules of a running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := &http.Client{Timeout: timeout}
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, strings.TrimRight(adminURL, "/")+"/modules", nil)
			if err != nil {
				return err
			}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("query admin API: %w", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				var e admin.ErrorResponse
				_ = json.NewDecoder(resp.Body).Decode(&e)
				return fmt.Errorf("admin API returned %s: %s", resp.Status, e.Error)
			}
			var infos []labmodular.ModuleInfo
			if err := json.NewDecoder(resp.Body).Decode(&infos); err != nil {
				return fmt.Errorf("decode module list: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tCLASS\tSTATE\tERROR")
			for _, info := range infos {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", info.Name, info.Class, info.State, info.Error)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&adminURL, "admin", "http://127.0.0.1:8080", "admin API base URL")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")
	return cmd
}
