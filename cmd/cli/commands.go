package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"google.golang.org/grpc/status"
)

func newTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Check connectivity and credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := call("TestModule", nil)
			if err != nil {
				return rpcError(err)
			}
			result := out.GetFields()["result"].GetStringValue()
			if result != "ok" {
				errorColor.Println("✗", result)
				return fmt.Errorf("test failed")
			}
			successColor.Println("✓ ok")
			return nil
		},
	}
}

func newAlertsCmd() *cobra.Command {
	var (
		threatModels []string
		statuses     []string
		severities   []string
		start, end   string
		maxResults   int
	)

	cmd := &cobra.Command{
		Use:     "alerts",
		Aliases: []string{"get-alerts"},
		Short:   "Search alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]any{
				"threat_model_name": toAny(threatModels),
				"alert_status":      toAny(statuses),
				"severity":          toAny(severities),
				"max_results":       maxResults,
			}
			if start != "" {
				req["start_time"] = start
			}
			if end != "" {
				req["end_time"] = end
			}

			out, err := call("GetAlerts", req)
			if err != nil {
				return rpcError(err)
			}
			if outputJSON {
				return printJSON(os.Stdout, out)
			}
			printAlerts(os.Stdout, out)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&threatModels, "threat-model", nil, "Threat model names")
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Alert statuses (Open, Under Investigation, Closed)")
	cmd.Flags().StringSliceVar(&severities, "severity", nil, "Severities (Low, Medium, High)")
	cmd.Flags().StringVar(&start, "start", "", "Start time, RFC 3339")
	cmd.Flags().StringVar(&end, "end", "", "End time, RFC 3339")
	cmd.Flags().IntVar(&maxResults, "max-results", 50, "Maximum number of alerts")
	return cmd
}

func newEventsCmd() *cobra.Command {
	var maxResults int

	cmd := &cobra.Command{
		Use:   "events <alert-id>...",
		Short: "List the events behind alerts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := call("GetAlertedEvents", map[string]any{
				"alert_id":    toAny(args),
				"max_results": maxResults,
			})
			if err != nil {
				return rpcError(err)
			}
			if outputJSON {
				return printJSON(os.Stdout, out)
			}
			printEvents(os.Stdout, out)
			return nil
		},
	}

	cmd.Flags().IntVar(&maxResults, "max-results", 50, "Maximum number of events")
	return cmd
}

func newUpdateStatusCmd() *cobra.Command {
	var newStatus string

	cmd := &cobra.Command{
		Use:   "update-status <alert-id>...",
		Short: "Set alerts to Open or Under Investigation",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := call("UpdateAlertStatus", map[string]any{
				"status":   newStatus,
				"alert_id": toAny(args),
			})
			if err != nil {
				return rpcError(err)
			}
			successColor.Printf("✓ %d alert(s) set to %s\n", len(args), newStatus)
			return nil
		},
	}

	cmd.Flags().StringVar(&newStatus, "status", "", "New status")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func newCloseCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "close <alert-id>...",
		Short: "Close alerts with a reason",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := call("CloseAlert", map[string]any{
				"close_reason": reason,
				"alert_id":     toAny(args),
			})
			if err != nil {
				return rpcError(err)
			}
			successColor.Printf("✓ %d alert(s) closed (%s)\n", len(args), reason)
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Close reason, e.g. \"Legitimate activity\"")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

// rpcError strips the gRPC envelope so operators see the command message.
func rpcError(err error) error {
	if st, ok := status.FromError(err); ok {
		return fmt.Errorf("%s", strings.TrimSpace(st.Message()))
	}
	return err
}

func toAny(items []string) []any {
	out := make([]any, 0, len(items))
	for _, s := range items {
		out = append(out, s)
	}
	return out
}
