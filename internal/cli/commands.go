package cli

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/botdeployer/deployer/internal/client"
	"github.com/botdeployer/deployer/internal/deploy"
)

func newBotsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "bots",
		Short: "List the bot presets the server can deploy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			profiles, err := opts.client().Bots(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list bots: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-16s %-20s %s\n", "ID", "NAME", "DESCRIPTION")
			for _, p := range profiles {
				fmt.Fprintf(out, "%-16s %-20s %s\n", p.ID, p.Name, p.Description)
			}
			return nil
		},
	}
}

func newDeployCmd(opts *options) *cobra.Command {
	var (
		sets     []string
		defaults bool
		watch    bool
	)
	cmd := &cobra.Command{
		Use:   "deploy <botId>",
		Short: "Start a deployment of a bot preset",
		Example: `  deployctl deploy demon-slayer --set SESSION_ID=abc123xyz789 --set AUTOLIKE_STATUS=true --watch
  deployctl deploy joel-xmd --defaults=false --set SESSION_ID=abc123xyz789`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			botID := args[0]
			c := opts.client()
			ctx := cmd.Context()

			config := map[string]any{}
			if defaults {
				p, err := c.Bot(ctx, botID)
				if err != nil {
					return fmt.Errorf("failed to load preset %s: %w", botID, err)
				}
				for k, v := range p.DefaultConfig {
					config[k] = parseValue(v)
				}
			}
			overrides, err := parseSets(sets)
			if err != nil {
				return err
			}
			maps.Copy(config, overrides)

			resp, err := c.Deploy(ctx, botID, config)
			if err != nil {
				return fmt.Errorf("failed to deploy: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", successColor.Sprint(resp.Message), resp.ID)
			fmt.Fprintf(out, "  status: %s\n", statusText(resp.Status))
			fmt.Fprintf(out, "  url:    %s\n", resp.URL)
			if !watch {
				return nil
			}
			return follow(ctx, cmd, opts, c, resp.ID, 0)
		},
	}
	cmd.Flags().StringArrayVar(&sets, "set", nil, "config value as KEY=VALUE (repeatable)")
	cmd.Flags().BoolVar(&defaults, "defaults", true, "start from the preset's default config")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "follow the deployment log until it finishes")
	return cmd
}

func newStatusCmd(opts *options) *cobra.Command {
	var (
		watch    bool
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "status <deploymentId>",
		Short: "Show a deployment and its log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := opts.client()
			if watch {
				return follow(cmd.Context(), cmd, opts, c, args[0], interval)
			}

			d, err := c.Deployment(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to get deployment: %w", err)
			}
			out := cmd.OutOrStdout()
			printSummary(out, d)
			fmt.Fprintln(out, headingColor.Sprint("Logs"))
			for _, l := range d.Logs {
				printLine(out, l)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "poll until the deployment finishes")
	cmd.Flags().DurationVar(&interval, "interval", client.DefaultPollInterval, "poll interval with --watch")
	return cmd
}

func newListCmd(opts *options) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List deployments known to the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := opts.client().Deployments(cmd.Context(), status)
			if err != nil {
				return fmt.Errorf("failed to list deployments: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(out, "No deployments found")
				return nil
			}
			fmt.Fprintf(out, "%-36s  %-14s  %-12s  %s\n", "ID", "BOT", "STATUS", "CREATED")
			for _, d := range list {
				fmt.Fprintf(out, "%-36s  %-14s  %-12s  %s\n", d.ID, d.BotID, d.Status, d.CreatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only show deployments with this status")
	return cmd
}

// follow prints log lines as they arrive. A zero interval uses the websocket
// stream; otherwise the deployment is polled.
func follow(ctx context.Context, cmd *cobra.Command, opts *options, c *client.Client, id string, interval time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	out := cmd.OutOrStdout()
	onLine := func(l string) { printLine(out, l) }

	var (
		status deploy.Status
		err    error
	)
	if interval > 0 {
		var d *deploy.Deployment
		d, err = c.Poll(ctx, id, interval, onLine)
		if d != nil {
			status = d.Status
		}
	} else {
		status, err = c.Stream(ctx, id, onLine)
	}
	if err != nil {
		return fmt.Errorf("failed to follow deployment: %w", err)
	}

	fmt.Fprintf(out, "Deployment %s is %s\n", id, statusText(status))
	if status == deploy.StatusFailed {
		return fmt.Errorf("deployment %s failed", id)
	}
	return nil
}

func parseSets(sets []string) (map[string]any, error) {
	config := make(map[string]any, len(sets))
	for _, s := range sets {
		key, value, ok := strings.Cut(s, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --set %q: want KEY=VALUE", s)
		}
		config[key] = parseValue(value)
	}
	return config, nil
}

// parseValue turns the literals true and false into booleans, matching what
// the web form submits for toggles.
func parseValue(v string) any {
	switch v {
	case "true":
		return true
	case "false":
		return false
	}
	return v
}
