package simd

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/GoSim-25-26J-441/simkernel/pkg/logger"
	"github.com/GoSim-25-26J-441/simkernel/pkg/models"
)

// newBufconnClient serves a SimulationGRPCServer over an in-memory listener
// and returns a client connected to it.
func newBufconnClient(t *testing.T) (*RunsClient, *SimulationGRPCServer) {
	t.Helper()
	store := NewRunStore()
	exec := newTestExecutor(store)
	srv := NewSimulationGRPCServer(store, exec, logger.Discard())

	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	srv.Register(gs)
	go func() { _ = gs.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
		exec.Shutdown()
		gs.Stop()
	})
	return NewRunsClient(conn), srv
}

func TestGRPCServerCreateStartResultLifecycle(t *testing.T) {
	client, srv := newBufconnClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	run, err := client.CreateRun(ctx, "", models.RunInput{ScenarioYAML: quickScenario}, false)
	if err != nil {
		t.Fatalf("CreateRun error: %v", err)
	}
	if run.ID == "" || run.Status != models.RunStatusPending {
		t.Fatalf("unexpected run: %+v", run)
	}

	// no result before the run ends
	_, _, err = client.GetRunResult(ctx, run.ID)
	if status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("expected FailedPrecondition, got %v", err)
	}

	started, err := client.StartRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("StartRun error: %v", err)
	}
	if started.Status != models.RunStatusRunning {
		t.Fatalf("expected running, got %v", started.Status)
	}

	if _, err := srv.Executor.Wait(ctx, run.ID); err != nil {
		t.Fatalf("Wait error: %v", err)
	}

	got, err := client.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun error: %v", err)
	}
	if got.Status != models.RunStatusCompleted || got.CreatedAtUnixMs != run.CreatedAtUnixMs {
		t.Fatalf("unexpected run: %+v", got)
	}

	_, res, err := client.GetRunResult(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRunResult error: %v", err)
	}
	if res == nil || res.FinalClock != 1 || res.ActorsCreated != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(res.Activities) != 1 || res.Activities[0].State != "FINISHED" {
		t.Fatalf("expected one finished activity, got %+v", res.Activities)
	}
}

func TestGRPCServerErrorCodes(t *testing.T) {
	client, _ := newBufconnClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := client.CreateRun(ctx, "dup", models.RunInput{ScenarioYAML: quickScenario}, false); err != nil {
		t.Fatalf("CreateRun error: %v", err)
	}

	tests := []struct {
		name string
		call func() error
		want codes.Code
	}{
		{"duplicate id", func() error {
			_, err := client.CreateRun(ctx, "dup", models.RunInput{ScenarioYAML: quickScenario}, false)
			return err
		}, codes.AlreadyExists},
		{"empty scenario", func() error {
			_, err := client.CreateRun(ctx, "", models.RunInput{}, false)
			return err
		}, codes.InvalidArgument},
		{"missing run id", func() error {
			_, err := client.GetRun(ctx, "")
			return err
		}, codes.InvalidArgument},
		{"unknown run", func() error {
			_, err := client.StartRun(ctx, "missing")
			return err
		}, codes.NotFound},
		{"unknown run result", func() error {
			_, _, err := client.GetRunResult(ctx, "missing")
			return err
		}, codes.NotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := status.Code(tt.call()); got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestGRPCServerStopRun(t *testing.T) {
	client, srv := newBufconnClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	run, err := client.CreateRun(ctx, "long", models.RunInput{ScenarioYAML: endlessScenario}, true)
	if err != nil {
		t.Fatalf("CreateRun error: %v", err)
	}
	if run.Status != models.RunStatusRunning {
		t.Fatalf("expected running, got %v", run.Status)
	}

	stopped, err := client.StopRun(ctx, "long")
	if err != nil {
		t.Fatalf("StopRun error: %v", err)
	}
	if stopped.Status != models.RunStatusCancelled {
		t.Fatalf("expected cancelled, got %v", stopped.Status)
	}
	if _, err := srv.Executor.Wait(ctx, "long"); err != nil {
		t.Fatalf("Wait error: %v", err)
	}

	if _, err := client.StartRun(ctx, "long"); status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("expected FailedPrecondition on restart, got %v", err)
	}
}

func TestGRPCServerListRuns(t *testing.T) {
	client, _ := newBufconnClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, id := range []string{"a", "b", "c"} {
		if _, err := client.CreateRun(ctx, id, models.RunInput{ScenarioYAML: quickScenario}, false); err != nil {
			t.Fatalf("CreateRun error: %v", err)
		}
	}

	runs, err := client.ListRuns(ctx, 2, 1, "")
	if err != nil {
		t.Fatalf("ListRuns error: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "b" || runs[1].ID != "c" {
		t.Fatalf("unexpected page: %+v", runs)
	}

	runs, err = client.ListRuns(ctx, 0, 0, models.RunStatusRunning)
	if err != nil {
		t.Fatalf("ListRuns error: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("expected no running run, got %+v", runs)
	}
}

func TestGRPCServerStreamRunEvents(t *testing.T) {
	client, _ := newBufconnClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := client.CreateRun(ctx, "watched", models.RunInput{ScenarioYAML: endlessScenario}, true); err != nil {
		t.Fatalf("CreateRun error: %v", err)
	}

	var events []RunEvent
	err := client.StreamRunEvents(ctx, "watched", 10*time.Millisecond, func(ev RunEvent) error {
		events = append(events, ev)
		if len(events) == 1 {
			if _, err := client.StopRun(ctx, "watched"); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("StreamRunEvents error: %v", err)
	}

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %+v", events)
	}
	if events[0].RunID != "watched" || events[0].Current != models.RunStatusRunning {
		t.Fatalf("unexpected first event: %+v", events[0])
	}
	if events[1].Previous != models.RunStatusRunning || events[1].Current != models.RunStatusCancelled {
		t.Fatalf("unexpected last event: %+v", events[1])
	}
}

func TestGRPCServerStreamOfFinishedRun(t *testing.T) {
	client, srv := newBufconnClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := client.CreateRun(ctx, "done", models.RunInput{ScenarioYAML: stuckScenario}, true); err != nil {
		t.Fatalf("CreateRun error: %v", err)
	}
	if _, err := srv.Executor.Wait(ctx, "done"); err != nil {
		t.Fatalf("Wait error: %v", err)
	}

	var events []RunEvent
	err := client.StreamRunEvents(ctx, "done", 0, func(ev RunEvent) error {
		events = append(events, ev)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamRunEvents error: %v", err)
	}
	if len(events) != 1 || events[0].Current != models.RunStatusDeadlocked {
		t.Fatalf("expected a single deadlocked event, got %+v", events)
	}
}
