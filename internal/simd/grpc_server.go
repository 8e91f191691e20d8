package simd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/GoSim-25-26J-441/simkernel/pkg/logger"
	"github.com/GoSim-25-26J-441/simkernel/pkg/models"
)

// RunsServiceName is the gRPC service of the daemon. Its messages are
// google.protobuf.Struct values shaped like the JSON bodies of the HTTP API.
const RunsServiceName = "simkernel.v1.Runs"

// runsService is the set of methods the service descriptor dispatches to.
type runsService interface {
	CreateRun(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StartRun(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StopRun(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetRun(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListRuns(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetRunResult(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StreamRunEvents(*structpb.Struct, grpc.ServerStream) error
}

type unaryMethod func(runsService, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(name string, call unaryMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(runsService), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + RunsServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(runsService), ctx, req.(*structpb.Struct))
			})
		},
	}
}

var runsServiceDesc = grpc.ServiceDesc{
	ServiceName: RunsServiceName,
	HandlerType: (*runsService)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("CreateRun", runsService.CreateRun),
		unaryHandler("StartRun", runsService.StartRun),
		unaryHandler("StopRun", runsService.StopRun),
		unaryHandler("GetRun", runsService.GetRun),
		unaryHandler("ListRuns", runsService.ListRuns),
		unaryHandler("GetRunResult", runsService.GetRunResult),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName: "StreamRunEvents",
			Handler: func(srv any, stream grpc.ServerStream) error {
				in := new(structpb.Struct)
				if err := stream.RecvMsg(in); err != nil {
					return err
				}
				return srv.(runsService).StreamRunEvents(in, stream)
			},
			ServerStreams: true,
		},
	},
}

// SimulationGRPCServer serves the runs of a RunStore over gRPC.
type SimulationGRPCServer struct {
	store    *RunStore
	Executor *RunExecutor
	logger   *slog.Logger
}

// NewSimulationGRPCServer creates a new SimulationGRPCServer with the provided RunStore and RunExecutor.
func NewSimulationGRPCServer(store *RunStore, executor *RunExecutor, log *slog.Logger) *SimulationGRPCServer {
	return &SimulationGRPCServer{
		store:    store,
		Executor: executor,
		logger:   logger.Component(logger.OrDefault(log), "grpc"),
	}
}

// Register adds the runs service to a gRPC server.
func (s *SimulationGRPCServer) Register(reg grpc.ServiceRegistrar) {
	reg.RegisterService(&runsServiceDesc, s)
}

// runIDRequest is the request of the methods addressing one run.
type runIDRequest struct {
	RunID string `json:"run_id"`
}

type listRunsRequest struct {
	Limit  int              `json:"limit,omitempty"`
	Offset int              `json:"offset,omitempty"`
	Status models.RunStatus `json:"status,omitempty"`
}

type streamRunEventsRequest struct {
	RunID      string `json:"run_id"`
	IntervalMs int64  `json:"interval_ms,omitempty"`
}

// RunEvent is one message of the StreamRunEvents stream.
type RunEvent struct {
	RunID    string           `json:"run_id"`
	AtUnixMs int64            `json:"at_unix_ms"`
	Previous models.RunStatus `json:"previous,omitempty"`
	Current  models.RunStatus `json:"current"`
}

type runResponse struct {
	Run    models.Run        `json:"run"`
	Result *models.RunResult `json:"result,omitempty"`
}

type listRunsResponse struct {
	Runs []models.Run `json:"runs"`
}

func (s *SimulationGRPCServer) CreateRun(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req createRunRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}
	if req.Input == nil {
		return nil, status.Error(codes.InvalidArgument, "input is required")
	}

	rec, err := s.store.Create(req.RunID, *req.Input)
	if err != nil {
		return nil, grpcError(err)
	}
	s.logger.Info("run created", "run_id", rec.Run.ID)

	if req.Start {
		if rec, err = s.Executor.Start(rec.Run.ID); err != nil {
			return nil, grpcError(err)
		}
		s.logger.Info("run started", "run_id", rec.Run.ID)
	}
	return toStruct(runResponse{Run: rec.Run})
}

func (s *SimulationGRPCServer) StartRun(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	runID, err := requireRunID(in)
	if err != nil {
		return nil, err
	}
	updated, err := s.Executor.Start(runID)
	if err != nil {
		return nil, grpcError(err)
	}
	s.logger.Info("run started", "run_id", runID)
	return toStruct(runResponse{Run: updated.Run})
}

func (s *SimulationGRPCServer) StopRun(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	runID, err := requireRunID(in)
	if err != nil {
		return nil, err
	}
	updated, err := s.Executor.Stop(runID)
	if err != nil {
		return nil, grpcError(err)
	}
	s.logger.Info("run cancelled", "run_id", runID)
	return toStruct(runResponse{Run: updated.Run})
}

func (s *SimulationGRPCServer) GetRun(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	runID, err := requireRunID(in)
	if err != nil {
		return nil, err
	}
	rec, ok := s.store.Get(runID)
	if !ok {
		return nil, status.Error(codes.NotFound, "run not found")
	}
	return toStruct(runResponse{Run: rec.Run})
}

func (s *SimulationGRPCServer) ListRuns(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req listRunsRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}
	recs := s.store.ListFiltered(req.Limit, req.Offset, req.Status)
	runs := make([]models.Run, 0, len(recs))
	for _, rec := range recs {
		runs = append(runs, rec.Run)
	}
	return toStruct(listRunsResponse{Runs: runs})
}

func (s *SimulationGRPCServer) GetRunResult(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	runID, err := requireRunID(in)
	if err != nil {
		return nil, err
	}
	rec, ok := s.store.Get(runID)
	if !ok {
		return nil, status.Error(codes.NotFound, "run not found")
	}
	if rec.Result == nil {
		return nil, grpcError(ErrNoResult)
	}
	return toStruct(runResponse{Run: rec.Run, Result: rec.Result})
}

// StreamRunEvents sends the status of a run, then every change of it, until
// the run is terminal or the client goes away.
func (s *SimulationGRPCServer) StreamRunEvents(in *structpb.Struct, stream grpc.ServerStream) error {
	var req streamRunEventsRequest
	if err := fromStruct(in, &req); err != nil {
		return err
	}
	if req.RunID == "" {
		return status.Error(codes.InvalidArgument, "run_id is required")
	}
	rec, ok := s.store.Get(req.RunID)
	if !ok {
		return status.Error(codes.NotFound, "run not found")
	}

	send := func(previous, current models.RunStatus) error {
		ev, err := toStruct(RunEvent{
			RunID:    req.RunID,
			AtUnixMs: time.Now().UTC().UnixMilli(),
			Previous: previous,
			Current:  current,
		})
		if err != nil {
			return err
		}
		return stream.SendMsg(ev)
	}

	previous := rec.Run.Status
	if err := send("", previous); err != nil {
		return err
	}
	if previous.IsTerminal() {
		return nil
	}

	interval := 500 * time.Millisecond
	if req.IntervalMs > 0 {
		interval = time.Duration(req.IntervalMs) * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stream.Context().Done():
			return stream.Context().Err()
		case <-ticker.C:
			rec, ok := s.store.Get(req.RunID)
			if !ok {
				return status.Error(codes.NotFound, "run not found")
			}
			if rec.Run.Status == previous {
				continue
			}
			if err := send(previous, rec.Run.Status); err != nil {
				return err
			}
			previous = rec.Run.Status
			if previous.IsTerminal() {
				return nil
			}
		}
	}
}

func requireRunID(in *structpb.Struct) (string, error) {
	var req runIDRequest
	if err := fromStruct(in, &req); err != nil {
		return "", err
	}
	if req.RunID == "" {
		return "", status.Error(codes.InvalidArgument, ErrRunIDMissing.Error())
	}
	return req.RunID, nil
}

// grpcError maps the daemon's errors to gRPC status codes.
func grpcError(err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, ErrRunNotFound):
		code = codes.NotFound
	case errors.Is(err, ErrRunExists):
		code = codes.AlreadyExists
	case errors.Is(err, ErrRunTerminal), errors.Is(err, ErrNoResult):
		code = codes.FailedPrecondition
	case errors.Is(err, ErrRunIDMissing), errors.Is(err, ErrInvalidInput):
		code = codes.InvalidArgument
	case errors.Is(err, ErrTooManyRuns):
		code = codes.ResourceExhausted
	}
	return status.Error(code, err.Error())
}

// toStruct converts v to a Struct through its JSON form.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// fromStruct decodes a Struct into v through its JSON form.
func fromStruct(in *structpb.Struct, v any) error {
	if in == nil {
		return status.Error(codes.InvalidArgument, "empty request")
	}
	data, err := json.Marshal(in.AsMap())
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	if err := json.Unmarshal(data, v); err != nil {
		return status.Error(codes.InvalidArgument, fmt.Sprintf("invalid request: %v", err))
	}
	return nil
}

// RunsClient calls the runs service of a daemon.
type RunsClient struct {
	cc grpc.ClientConnInterface
}

func NewRunsClient(cc grpc.ClientConnInterface) *RunsClient {
	return &RunsClient{cc: cc}
}

func (c *RunsClient) invoke(ctx context.Context, method string, req, resp any) error {
	in, err := toStruct(req)
	if err != nil {
		return err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+RunsServiceName+"/"+method, in, out); err != nil {
		return err
	}
	if err := fromStruct(out, resp); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	return nil
}

// CreateRun registers a run, and starts it when start is set.
func (c *RunsClient) CreateRun(ctx context.Context, runID string, input models.RunInput, start bool) (*models.Run, error) {
	var resp runResponse
	err := c.invoke(ctx, "CreateRun", createRunRequest{RunID: runID, Input: &input, Start: start}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp.Run, nil
}

func (c *RunsClient) StartRun(ctx context.Context, runID string) (*models.Run, error) {
	var resp runResponse
	if err := c.invoke(ctx, "StartRun", runIDRequest{RunID: runID}, &resp); err != nil {
		return nil, err
	}
	return &resp.Run, nil
}

func (c *RunsClient) StopRun(ctx context.Context, runID string) (*models.Run, error) {
	var resp runResponse
	if err := c.invoke(ctx, "StopRun", runIDRequest{RunID: runID}, &resp); err != nil {
		return nil, err
	}
	return &resp.Run, nil
}

func (c *RunsClient) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	var resp runResponse
	if err := c.invoke(ctx, "GetRun", runIDRequest{RunID: runID}, &resp); err != nil {
		return nil, err
	}
	return &resp.Run, nil
}

func (c *RunsClient) ListRuns(ctx context.Context, limit, offset int, st models.RunStatus) ([]models.Run, error) {
	var resp listRunsResponse
	if err := c.invoke(ctx, "ListRuns", listRunsRequest{Limit: limit, Offset: offset, Status: st}, &resp); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

func (c *RunsClient) GetRunResult(ctx context.Context, runID string) (*models.Run, *models.RunResult, error) {
	var resp runResponse
	if err := c.invoke(ctx, "GetRunResult", runIDRequest{RunID: runID}, &resp); err != nil {
		return nil, nil, err
	}
	return &resp.Run, resp.Result, nil
}

// StreamRunEvents calls fn with every status event of a run until the server
// ends the stream, fn fails or ctx is done.
func (c *RunsClient) StreamRunEvents(ctx context.Context, runID string, interval time.Duration, fn func(RunEvent) error) error {
	stream, err := c.cc.NewStream(ctx, &runsServiceDesc.Streams[0], "/"+RunsServiceName+"/StreamRunEvents")
	if err != nil {
		return err
	}
	in, err := toStruct(streamRunEventsRequest{RunID: runID, IntervalMs: interval.Milliseconds()})
	if err != nil {
		return err
	}
	if err := stream.SendMsg(in); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}

	for {
		out := new(structpb.Struct)
		if err := stream.RecvMsg(out); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		var ev RunEvent
		if err := fromStruct(out, &ev); err != nil {
			return err
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
}
