package handlers

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/shortlink/internal/consistency"
	"github.com/serroba/shortlink/internal/domain"
	"github.com/serroba/shortlink/internal/idgen"
	"github.com/serroba/shortlink/internal/shortcode"
	"github.com/serroba/shortlink/internal/shortener"
	"github.com/serroba/shortlink/internal/sweeper"
	"go.uber.org/zap"
)

type ExpirySweep interface {
	RunOnce(ctx context.Context) (sweeper.ExpiryReport, error)
}

type Reconciler interface {
	RunOnce(ctx context.Context) (sweeper.ReconcileReport, error)
}

type Inspector interface {
	Inspect(ctx context.Context, code domain.Code) (consistency.Result, error)
}

type BulkInserter interface {
	Insert(ctx context.Context, total int) (shortener.BulkResult, error)
}

// OpsHandler exposes the sweeps, the checker and diagnostics to operators.
type OpsHandler struct {
	expiry    ExpirySweep
	reconcile Reconciler
	inspector Inspector
	bulk      BulkInserter
	auditor   domain.Auditor
	logger    *zap.Logger
}

func NewOpsHandler(
	expiry ExpirySweep,
	reconcile Reconciler,
	inspector Inspector,
	bulk BulkInserter,
	auditor domain.Auditor,
	logger *zap.Logger,
) *OpsHandler {
	return &OpsHandler{
		expiry:    expiry,
		reconcile: reconcile,
		inspector: inspector,
		bulk:      bulk,
		auditor:   auditor,
		logger:    logger,
	}
}

func (h *OpsHandler) CleanupExpired(ctx context.Context, _ *struct{}) (*ExpiryResponse, error) {
	report, err := h.expiry.RunOnce(ctx)
	if err != nil {
		return nil, h.sweepError(err, "expiry sweep failed")
	}

	return &ExpiryResponse{Body: report}, nil
}

func (h *OpsHandler) Reconcile(ctx context.Context, _ *struct{}) (*ReconcileResponse, error) {
	report, err := h.reconcile.RunOnce(ctx)
	if err != nil {
		return nil, h.sweepError(err, "reconciliation sweep failed")
	}

	resp := &ReconcileResponse{}
	resp.Body.ReconcileReport = report
	resp.Body.Inconsistencies = report.Inconsistencies()

	return resp, nil
}

func (h *OpsHandler) Validate(ctx context.Context, req *CodePath) (*ValidateResponse, error) {
	if !shortcode.IsValidCode(req.Code) {
		return nil, huma.Error400BadRequest("malformed short code")
	}

	result, err := h.inspector.Inspect(ctx, domain.Code(req.Code))
	if err != nil {
		h.logger.Error("consistency check failed", zap.String("code", req.Code), zap.Error(err))

		return nil, huma.Error503ServiceUnavailable("consistency check failed, a backend is unavailable")
	}

	return &ValidateResponse{Body: result}, nil
}

func (h *OpsHandler) ParseSnowflake(_ context.Context, req *SnowflakeRequest) (*SnowflakeResponse, error) {
	if req.ID < 0 {
		return nil, huma.Error400BadRequest("identifier must not be negative")
	}

	parts := idgen.Parse(req.ID)

	resp := &SnowflakeResponse{}
	resp.Body.ID = req.ID
	resp.Body.Timestamp = parts.Timestamp
	resp.Body.Datacenter = parts.Datacenter
	resp.Body.Worker = parts.Worker
	resp.Body.Sequence = parts.Sequence
	resp.Body.Code = shortcode.Encode(req.ID)

	return resp, nil
}

func (h *OpsHandler) InsertBulk(ctx context.Context, req *BulkInsertRequest) (*BulkInsertResponse, error) {
	result, err := h.bulk.Insert(ctx, req.Body.Count)
	if err != nil {
		h.logger.Error("bulk insert failed", zap.Int("count", req.Body.Count), zap.Error(err))

		return nil, huma.Error500InternalServerError("bulk insert failed")
	}

	return &BulkInsertResponse{Body: result}, nil
}

func (h *OpsHandler) Status(ctx context.Context, req *StatusRequest) (*StatusResponse, error) {
	audit, err := h.auditor.Audit(ctx)
	if err != nil {
		return nil, h.auditError(err)
	}

	recent, err := h.auditor.Recent(ctx, req.Recent)
	if err != nil {
		return nil, h.auditError(err)
	}

	resp := &StatusResponse{}
	resp.Body.Records = audit.Records
	resp.Body.Recent = make([]domain.Record, 0, len(recent))

	for _, record := range recent {
		resp.Body.Recent = append(resp.Body.Recent, *record)
	}

	return resp, nil
}

// CheckDuplicates counts records sharing a code or an id. Either means two
// mints produced the same value and the store failed to reject the second.
func (h *OpsHandler) CheckDuplicates(ctx context.Context, _ *struct{}) (*DuplicatesResponse, error) {
	audit, err := h.auditor.Audit(ctx)
	if err != nil {
		return nil, h.auditError(err)
	}

	if !audit.Intact() {
		h.logger.Warn("duplicate records found",
			zap.Int64("duplicateCodes", audit.DuplicateCodes),
			zap.Int64("duplicateIds", audit.DuplicateIDs),
		)
	}

	resp := &DuplicatesResponse{}
	resp.Body.Audit = audit
	resp.Body.Intact = audit.Intact()

	return resp, nil
}

func (h *OpsHandler) auditError(err error) error {
	h.logger.Error("record store audit failed", zap.Error(err))

	return huma.Error503ServiceUnavailable("record store audit failed")
}

func (h *OpsHandler) sweepError(err error, msg string) error {
	if errors.Is(err, sweeper.ErrInFlight) {
		return huma.Error409Conflict("a sweep is already running")
	}

	if errors.Is(err, sweeper.ErrStopped) {
		return huma.Error503ServiceUnavailable("sweeper is shutting down")
	}

	h.logger.Error(msg, zap.Error(err))

	return huma.Error500InternalServerError(msg)
}
