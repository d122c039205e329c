package handler

import (
	"context"
	"fmt"
	"net"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/hive-corporation/varonis-dsp/internal/adapter/varonis"
	"github.com/hive-corporation/varonis-dsp/internal/core/domain"
)

func newTestGrpcClient(t *testing.T, cmds *fakeCommands) *CommandsClient {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnaryInterceptor(UnaryLoggingInterceptor(zerolog.Nop())))
	RegisterCommandsServer(srv, NewGrpcServer(cmds, zerolog.Nop()))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return NewCommandsClient(conn)
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	require.NoError(t, err)
	return s
}

func TestGrpc_TestModule(t *testing.T) {
	client := newTestGrpcClient(t, &fakeCommands{testResult: "ok"})

	out, err := client.Call(context.Background(), "TestModule", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", out.GetFields()["result"].GetStringValue())
}

func TestGrpc_GetAlerts(t *testing.T) {
	cmds := &fakeCommands{alerts: []domain.Alert{testAlert()}}
	client := newTestGrpcClient(t, cmds)

	in := mustStruct(t, map[string]any{
		"threat_model_name": []any{"Suspicious", "Abnormal"},
		"alert_status":      "Open, Under Investigation",
		"max_results":       100,
		"start_time":        "2022-04-10T00:00:00Z",
	})

	out, err := client.Call(context.Background(), "GetAlerts", in)
	require.NoError(t, err)

	assert.Equal(t, []string{"Suspicious", "Abnormal"}, cmds.gotQuery.ThreatModels)
	assert.Equal(t, []string{"Open", "Under Investigation"}, cmds.gotQuery.Statuses)
	assert.Equal(t, 100, cmds.gotQuery.MaxResults)
	assert.False(t, cmds.gotQuery.End.IsZero(), "end defaults to now when only start is set")

	assert.Equal(t, float64(1), out.GetFields()["count"].GetNumberValue())
	alerts := out.GetFields()["alerts"].GetListValue().GetValues()
	require.Len(t, alerts, 1)
	assert.Equal(t, testAlertID, alerts[0].GetStructValue().GetFields()["ID"].GetStringValue())
}

func TestGrpc_GetAlertsRejectsBadArguments(t *testing.T) {
	cmds := &fakeCommands{}
	client := newTestGrpcClient(t, cmds)

	for name, args := range map[string]map[string]any{
		"fractional max_results": {"max_results": 1.5},
		"huge max_results":       {"max_results": 1e12},
		"negative max_results":   {"max_results": -1},
		"end without start":      {"end_time": "2022-04-13T00:00:00Z"},
	} {
		_, err := client.Call(context.Background(), "GetAlerts", mustStruct(t, args))
		assert.Equal(t, codes.InvalidArgument, status.Code(err), name)
	}
	assert.Zero(t, cmds.gotQuery.MaxResults, "no search reaches the commands")
}

func TestGrpc_GetAlertedEventsRequiresIDs(t *testing.T) {
	client := newTestGrpcClient(t, &fakeCommands{})

	_, err := client.Call(context.Background(), "GetAlertedEvents", mustStruct(t, map[string]any{}))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestGrpc_UpdateAndClose(t *testing.T) {
	cmds := &fakeCommands{}
	client := newTestGrpcClient(t, cmds)
	ctx := context.Background()

	_, err := client.Call(ctx, "UpdateAlertStatus", mustStruct(t, map[string]any{
		"status":   "Open",
		"alert_id": testAlertID,
	}))
	require.NoError(t, err)
	assert.Equal(t, "Open", cmds.gotStatus)
	assert.Equal(t, []string{testAlertID}, cmds.gotIDs)

	_, err = client.Call(ctx, "CloseAlert", mustStruct(t, map[string]any{
		"close_reason": "Legitimate activity",
		"alert_id":     []any{testAlertID},
	}))
	require.NoError(t, err)
	assert.Equal(t, "Legitimate activity", cmds.gotReason)
}

func TestGrpc_ErrorCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want codes.Code
	}{
		{"bad status", fmt.Errorf("x: %w", domain.ErrUnknownStatus), codes.InvalidArgument},
		{"bad alert id", domain.ErrInvalidAlertID, codes.InvalidArgument},
		{"unauthorized", varonis.ErrUnauthorized, codes.PermissionDenied},
		{"no rows", varonis.ErrNoRowLocation, codes.Unavailable},
		{"schema drift", fmt.Errorf("row 0: %w", domain.ErrSchemaDrift), codes.Unavailable},
		{"other", fmt.Errorf("boom"), codes.Internal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestGrpcClient(t, &fakeCommands{err: tt.err})
			_, err := client.Call(context.Background(), "CloseAlert", mustStruct(t, map[string]any{}))
			assert.Equal(t, tt.want, status.Code(err))
		})
	}
}

func TestGrpc_UnauthorizedMessage(t *testing.T) {
	client := newTestGrpcClient(t, &fakeCommands{err: varonis.ErrUnauthorized})

	_, err := client.Call(context.Background(), "GetAlerts", nil)
	assert.Equal(t, varonis.AuthErrorMessage, status.Convert(err).Message())
}

func TestGrpc_UnknownMethod(t *testing.T) {
	client := newTestGrpcClient(t, &fakeCommands{})

	_, err := client.Call(context.Background(), "DeleteEverything", nil)
	assert.Equal(t, codes.Unimplemented, status.Code(err))
}
