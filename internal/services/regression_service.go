package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-regress/internal/api"
	"github.com/miradorstack/mirador-regress/internal/engine"
	"github.com/miradorstack/mirador-regress/internal/models"
	"github.com/miradorstack/mirador-regress/internal/utils"
)

// Analyzer runs single-query regression and slowdown computations.
type Analyzer interface {
	Regression(ctx context.Context, in models.RegressionInput) (*models.RegressionOutput, error)
	Slowdown(ctx context.Context, in models.RegressionInput) (*models.SlowdownOutput, error)
}

// Reporter runs multi-key reports.
type Reporter interface {
	Report(ctx context.Context, req engine.ReportRequest) (*engine.Report, error)
}

// RegressionService implements the gRPC regression service.
type RegressionService struct {
	logger    *slog.Logger
	analyzer  Analyzer
	reporter  Reporter
	latencies *utils.LatencyTracker
}

var _ api.RegressionServer = (*RegressionService)(nil)

// NewRegressionService constructs the service facade.
func NewRegressionService(logger *slog.Logger, analyzer Analyzer, reporter Reporter) *RegressionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RegressionService{
		logger:    logger,
		analyzer:  analyzer,
		reporter:  reporter,
		latencies: utils.NewLatencyTracker(1024),
	}
}

// ComputeRegression classifies a query's events against their baseline.
func (s *RegressionService) ComputeRegression(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.analyzer == nil {
		return nil, status.Error(codes.FailedPrecondition, "analyzer not configured")
	}
	in, err := api.FromStructRegressionInput(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	start := time.Now()
	out, err := s.analyzer.Regression(ctx, in)
	s.observe("regression", time.Since(start))
	if err != nil {
		return nil, s.toStatus("regression", err)
	}
	resp, err := api.ToStructRegression(out)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode regression: %v", err))
	}
	return resp, nil
}

// ComputeSlowdown classifies a query's transactions against their baseline.
func (s *RegressionService) ComputeSlowdown(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.analyzer == nil {
		return nil, status.Error(codes.FailedPrecondition, "analyzer not configured")
	}
	in, err := api.FromStructRegressionInput(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	start := time.Now()
	out, err := s.analyzer.Slowdown(ctx, in)
	s.observe("slowdown", time.Since(start))
	if err != nil {
		return nil, s.toStatus("slowdown", err)
	}
	resp, err := api.ToStructSlowdown(out)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode slowdown: %v", err))
	}
	return resp, nil
}

// Report scores every key of a report request.
func (s *RegressionService) Report(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.reporter == nil {
		return nil, status.Error(codes.FailedPrecondition, "reporter not configured")
	}
	r, err := api.FromStructReportRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	start := time.Now()
	rep, err := s.reporter.Report(ctx, r)
	s.observe("report", time.Since(start))
	if err != nil {
		return nil, s.toStatus("report", err)
	}
	s.logger.Info("report generated",
		slog.String("run_id", rep.RunID),
		slog.String("service", rep.ServiceID),
		slog.Int("rows", len(rep.Rows)))
	resp, err := api.ToStructReport(rep)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode report: %v", err))
	}
	return resp, nil
}

// LatencyP95 returns the current p95 latency of op.
func (s *RegressionService) LatencyP95(op string) time.Duration {
	if s.latencies == nil {
		return 0
	}
	return s.latencies.Percentile(op, 95)
}

func (s *RegressionService) observe(op string, d time.Duration) {
	s.latencies.Observe(op, d)
	if count := s.latencies.Count(op); count >= 20 && count%20 == 0 {
		s.logger.Info("operation latency",
			slog.String("op", op),
			slog.Duration("p95", s.latencies.Percentile(op, 95)),
			slog.Int("samples", count))
	}
}

func (s *RegressionService) toStatus(op string, err error) error {
	switch {
	case utils.IsConfigError(err):
		s.logger.Error(op+" misconfigured", slog.Any("error", err))
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		s.logger.Error(op+" failed", slog.Any("error", err))
		return status.Error(codes.Internal, fmt.Sprintf("%s failed: %v", op, err))
	}
}
