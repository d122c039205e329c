package main

import (
	"context"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/hive-corporation/varonis-dsp/internal/adapter/handler"
)

var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

var (
	serverAddr string
	timeout    time.Duration
	outputJSON bool
	noColor    bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		errorColor.Fprintln(os.Stderr, "✗", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "varonis",
		Short:         "Operate on Varonis DSP alerts through the adapter gRPC API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
	}

	root.PersistentFlags().StringVar(&serverAddr, "server", "localhost:50051", "Address of the adapter gRPC API")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "Timeout for a single command")
	root.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output raw JSON")
	root.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	root.AddCommand(newTestCmd())
	root.AddCommand(newAlertsCmd())
	root.AddCommand(newEventsCmd())
	root.AddCommand(newUpdateStatusCmd())
	root.AddCommand(newCloseCmd())
	return root
}

// call dials the server, invokes one method and closes the connection.
func call(method string, args map[string]any) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(args)
	if err != nil {
		return nil, err
	}

	conn, err := grpc.NewClient(serverAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return handler.NewCommandsClient(conn).Call(ctx, method, in)
}
