package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/gymchain/gymchain-ledger/internal/events"
	"github.com/gymchain/gymchain-ledger/internal/ledger"
	"github.com/gymchain/gymchain-ledger/internal/observability"
	"github.com/gymchain/gymchain-ledger/internal/protocol"
)

type MembershipService struct {
	ledger     *ledger.Ledger
	publisher  events.Publisher
	metrics    *observability.Metrics
	logger     *slog.Logger
	writeToken string
	issuer     string
	service    string
	version    string
}

type MembershipParams struct {
	Ledger    *ledger.Ledger
	Publisher events.Publisher
	Metrics   *observability.Metrics
	Logger    *slog.Logger
	// WriteToken guards appends when non-empty.
	WriteToken string
	Issuer     string
	Service    string
	Version    string
}

func NewMembership(params MembershipParams) (*MembershipService, error) {
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if params.Publisher == nil {
		params.Publisher = events.Nop{}
	}
	if params.Metrics == nil {
		params.Metrics = observability.NewMetrics()
	}
	if params.Logger == nil {
		params.Logger = slog.Default()
	}
	if params.Service == "" {
		params.Service = "gymchain-ledger"
	}
	if params.Version == "" {
		params.Version = "dev"
	}
	params.Metrics.ChainLength.Set(float64(params.Ledger.Len()))
	return &MembershipService{
		ledger:     params.Ledger,
		publisher:  params.Publisher,
		metrics:    params.Metrics,
		logger:     params.Logger,
		writeToken: params.WriteToken,
		issuer:     params.Issuer,
		service:    params.Service,
		version:    params.Version,
	}, nil
}

func (s *MembershipService) RequiresWriteToken() bool {
	return s.writeToken != ""
}

func (s *MembershipService) VerifyWriteToken(token string) bool {
	token = strings.TrimSpace(token)
	if token == "" || s.writeToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.writeToken)) == 1
}

func (s *MembershipService) AddMembership(ctx context.Context, req protocol.AddMembershipRequest) (resp protocol.AddMembershipResponse, err error) {
	op, ctx := observability.StartOperation(ctx, s.metrics, "membership.add", attribute.String("member_id", req.MemberID))
	defer func() { op.End(err) }()

	block, err := s.ledger.AppendMembership(ctx, req.MemberID, req.Status, req.Expiry)
	if errors.Is(err, ledger.ErrInvalidUTF8) {
		s.metrics.AppendsTotal.WithLabelValues("rejected").Inc()
		return resp, BadRequest("member_id, status and expiry must be valid UTF-8", err)
	}
	if errors.Is(err, ledger.ErrInvalidInput) {
		s.metrics.AppendsTotal.WithLabelValues("rejected").Inc()
		return resp, BadRequest("member_id and status are required", err)
	}
	if err != nil {
		s.metrics.AppendsTotal.WithLabelValues("error").Inc()
		return resp, Internal("append membership block", err)
	}
	s.metrics.AppendsTotal.WithLabelValues("ok").Inc()
	s.metrics.ChainLength.Set(float64(block.Index + 1))

	if perr := s.publisher.PublishBlock(ctx, block); perr != nil {
		s.metrics.PublishErrors.Inc()
		s.logger.WarnContext(ctx, "block event not published",
			slog.Int64("index", block.Index),
			slog.String("error", perr.Error()))
	}
	s.logger.InfoContext(ctx, "membership block appended",
		slog.String("member_id", req.MemberID),
		slog.String("status", req.Status),
		slog.Int64("index", block.Index),
		slog.String("content_hash", block.ContentHash))

	return protocol.AddMembershipResponse{
		Message: fmt.Sprintf("Block created for member %s", req.MemberID),
		Block:   block,
	}, nil
}

func (s *MembershipService) VerifyMembership(ctx context.Context, memberID string) (resp protocol.VerifyMembershipResponse, err error) {
	if memberID == "" {
		return resp, BadRequest("member_id is required", nil)
	}
	op, ctx := observability.StartOperation(ctx, s.metrics, "membership.verify", attribute.String("member_id", memberID))
	defer func() { op.End(err) }()

	res := s.ledger.ResolveStatus(memberID)
	s.metrics.ResolutionsTotal.WithLabelValues(string(res.Outcome)).Inc()
	if res.Outcome == ledger.OutcomeTampered {
		s.logger.WarnContext(ctx, "membership signature mismatch",
			slog.String("member_id", memberID),
			slog.Int64("index", res.BlockIndex))
	}
	return protocol.VerifyMembershipResponse{
		OK:      res.Found(),
		Message: res.Message,
		Outcome: string(res.Outcome),
	}, nil
}

func (s *MembershipService) ChainValid(ctx context.Context) protocol.ChainValidResponse {
	op, ctx := observability.StartOperation(ctx, s.metrics, "ledger.verify")
	verr := s.ledger.Verify()
	op.End(nil)

	resp := protocol.ChainValidResponse{Valid: verr == nil, Length: s.ledger.Len()}
	var chainErr *ledger.ChainError
	if errors.As(verr, &chainErr) {
		idx := chainErr.Index
		resp.FailedIndex = &idx
		resp.Reason = chainErr.Reason
	}
	if resp.Valid {
		s.metrics.ValidationsTotal.WithLabelValues("valid").Inc()
	} else {
		s.metrics.ValidationsTotal.WithLabelValues("invalid").Inc()
		s.logger.WarnContext(ctx, "ledger integrity check failed", slog.String("error", verr.Error()))
	}
	return resp
}

func (s *MembershipService) Blocks(_ context.Context, lastN int) ([]protocol.Block, error) {
	if lastN < 1 {
		return nil, BadRequest("last must be a positive integer", nil)
	}
	return s.ledger.Snapshot(lastN), nil
}

func (s *MembershipService) Health(_ context.Context) protocol.HealthResponse {
	latest := s.ledger.Latest()
	return protocol.HealthResponse{
		Service:    s.service,
		Version:    s.version,
		Status:     "ok",
		Issuer:     s.issuer,
		Length:     s.ledger.Len(),
		LatestHash: latest.ContentHash,
		Time:       time.Now().UTC(),
	}
}
