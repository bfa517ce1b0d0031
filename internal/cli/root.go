package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/SirClappington/fscmd/internal/domain"
	"github.com/SirClappington/fscmd/internal/subscription"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func apiFromEnv() string {
	if v := os.Getenv("FSCMD_API"); v != "" {
		return v
	}
	return "http://localhost:8080"
}

// NewRootCommand builds the fscmdctl command tree.
func NewRootCommand() *cobra.Command {
	var api string
	client := func() *Client { return NewClient(api) }

	root := &cobra.Command{
		Use:          "fscmdctl",
		Short:        "Operate the FreeSWITCH command queue",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&api, "api", apiFromEnv(), "operator API base URL (env FSCMD_API)")

	root.AddCommand(
		newEnqueueCommand(client),
		newListCommand(client),
		newGetCommand(client),
		newRetryCommand(client),
		newSubsCommand(client),
	)
	return root
}

func newEnqueueCommand(client func() *Client) *cobra.Command {
	var req struct {
		Key    string `json:"key,omitempty"`
		Action string `json:"action"`
		Cmd    string `json:"cmd,omitempty"`
		Args   string `json:"args,omitempty"`
		UUID   string `json:"uuid,omitempty"`
		Cause  string `json:"cause,omitempty"`
		UUIDA  string `json:"uuidA,omitempty"`
		UUIDB  string `json:"uuidB,omitempty"`
		File   string `json:"file,omitempty"`
		Legs   string `json:"legs,omitempty"`
	}
	cmd := &cobra.Command{
		Use:   "enqueue <table>",
		Short: "Insert a new command record",
		Example: `  fscmdctl enqueue fs_commands --action api --cmd status
  fscmdctl enqueue fs_commands --action hangup --uuid 5f1c... --cause USER_BUSY`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var c domain.Command
			if err := client().do(cmd.Context(), http.MethodPost, "/v1/commands/"+url.PathEscape(args[0]), req, &c); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", color.New(color.FgGreen).Sprint("enqueued"), c.ID)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.Key, "key", "", "record key (random when empty)")
	f.StringVar(&req.Action, "action", "", "api|originate|hangup|bridge|playback")
	f.StringVar(&req.Cmd, "cmd", "", "api command")
	f.StringVar(&req.Args, "args", "", "command arguments")
	f.StringVar(&req.UUID, "uuid", "", "channel uuid")
	f.StringVar(&req.Cause, "cause", "", "hangup cause")
	f.StringVar(&req.UUIDA, "uuid-a", "", "first leg to bridge")
	f.StringVar(&req.UUIDB, "uuid-b", "", "second leg to bridge")
	f.StringVar(&req.File, "file", "", "file to play")
	f.StringVar(&req.Legs, "legs", "", "aleg|bleg|both")
	_ = cmd.MarkFlagRequired("action")
	return cmd
}

func newListCommand(client func() *Client) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list <table>",
		Short: "Show the most recent records of a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out []domain.Command
			path := "/v1/commands/" + url.PathEscape(args[0]) + "?limit=" + strconv.Itoa(limit)
			if err := client().do(cmd.Context(), http.MethodGet, path, nil, &out); err != nil {
				return err
			}
			printCommands(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum rows")
	return cmd
}

func newGetCommand(client func() *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "get <table> <key>",
		Short: "Show one record as JSON",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var c domain.Command
			if err := client().do(cmd.Context(), http.MethodGet, recordPath(args[0], args[1]), nil, &c); err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(c)
		},
	}
}

func newRetryCommand(client func() *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <table> <key>",
		Short: "Put a record back to status new so consumers pick it up again",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{"status": string(domain.StatusNew), "result": nil, "processedAt": nil}
			var c domain.Command
			if err := client().do(cmd.Context(), http.MethodPatch, recordPath(args[0], args[1]), body, &c); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", statusColor(c.Status).Sprint(c.Status), c.ID)
			return nil
		},
	}
}

func newSubsCommand(client func() *Client) *cobra.Command {
	subs := &cobra.Command{Use: "subs", Short: "Manage topic subscriptions of the api process"}

	list := &cobra.Command{
		Use:   "list",
		Short: "List subscriptions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var out []subscription.Info
			if err := client().do(cmd.Context(), http.MethodGet, "/v1/subscriptions", nil, &out); err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TOPIC\tSTATE\tNOTIFIED\tSINCE\tFILTER")
			for _, s := range out {
				state := color.New(color.FgYellow).Sprint("connecting")
				if s.Connected {
					state = color.New(color.FgGreen).Sprint("live")
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", s.Topic, state, s.Notified, s.Since.Format(time.RFC3339), s.Filter)
			}
			return tw.Flush()
		},
	}

	var filter string
	add := &cobra.Command{
		Use:   "add <topic>",
		Short: "Subscribe to a topic, replacing any existing subscription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{"filter": filter}
			if err := client().do(cmd.Context(), http.MethodPut, "/v1/subscriptions/"+url.PathEscape(args[0]), body, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", color.New(color.FgGreen).Sprint("subscribed"), args[0])
			return nil
		},
	}
	add.Flags().StringVar(&filter, "filter", "", `CEL filter, e.g. action == "hangup"`)

	rm := &cobra.Command{
		Use:     "rm <topic>",
		Aliases: []string{"remove"},
		Short:   "Unsubscribe from a topic",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client().do(cmd.Context(), http.MethodDelete, "/v1/subscriptions/"+url.PathEscape(args[0]), nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", color.New(color.FgYellow).Sprint("unsubscribed"), args[0])
			return nil
		},
	}

	emit := &cobra.Command{
		Use:   "emit <topic> <json>",
		Short: "Hand a raw JSON payload to the topic's sink",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !json.Valid([]byte(args[1])) {
				return fmt.Errorf("payload is not valid JSON")
			}
			path := "/v1/subscriptions/" + url.PathEscape(args[0]) + "/emit"
			if err := client().do(cmd.Context(), http.MethodPost, path, json.RawMessage(args[1]), nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", color.New(color.FgGreen).Sprint("emitted"), args[0])
			return nil
		},
	}

	queue := &cobra.Command{
		Use:   "queue <topic>",
		Short: "Show how many payloads wait in the topic's relay queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Topic  string `json:"topic"`
				Queued int64  `json:"queued"`
			}
			if err := client().do(cmd.Context(), http.MethodGet, "/v1/subscriptions/"+url.PathEscape(args[0])+"/queue", nil, &out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s queued\n", out.Topic, color.New(color.FgCyan).Sprint(out.Queued))
			return nil
		},
	}

	watch := &cobra.Command{
		Use:   "watch <topic>",
		Short: "Print payloads published to the topic's relay queue as they arrive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return client().stream(cmd.Context(), "/v1/subscriptions/"+url.PathEscape(args[0])+"/queue/events", cmd.OutOrStdout())
		},
	}

	subs.AddCommand(list, add, rm, emit, queue, watch)
	return subs
}

func recordPath(table, key string) string {
	return "/v1/commands/" + url.PathEscape(table) + "/" + url.PathEscape(key)
}

func statusColor(s domain.Status) *color.Color {
	switch domain.Status(strings.ToLower(string(s))) {
	case domain.StatusDone:
		return color.New(color.FgGreen)
	case domain.StatusFailed:
		return color.New(color.FgRed)
	case domain.StatusProcessing:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgCyan)
	}
}

func printCommands(w io.Writer, cmds []domain.Command) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tACTION\tSTATUS\tPROCESSED\tRESULT")
	for _, c := range cmds {
		processed := "-"
		if c.ProcessedAt != nil {
			processed = time.Unix(*c.ProcessedAt, 0).Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", c.ID, c.Action, statusColor(c.Status).Sprint(c.Status), processed, c.Result)
	}
	_ = tw.Flush()
}
