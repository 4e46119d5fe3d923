package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/shortlink/internal/domain"
	"github.com/serroba/shortlink/internal/shortener"
	"go.uber.org/zap"
)

// Shortener is the service behind the link endpoints.
type Shortener interface {
	Shorten(ctx context.Context, in shortener.ShortenInput) (*domain.Record, bool, error)
	Resolve(ctx context.Context, code domain.Code, client shortener.Client) (*domain.Record, error)
	Lookup(ctx context.Context, code domain.Code) (*domain.Record, error)
	LookupByID(ctx context.Context, id int64) (*domain.Record, error)
	Delete(ctx context.Context, code domain.Code) error
	DeleteRecordOnly(ctx context.Context, code domain.Code) error
	Expire(ctx context.Context, code domain.Code, invalidate bool) (*domain.Record, error)
}

// URLHandler serves shortening, redirects and record mutations.
type URLHandler struct {
	service Shortener
	baseURL string
	now     func() time.Time
	logger  *zap.Logger
}

// NewURLHandler creates a URL handler. baseURL prefixes returned short links.
func NewURLHandler(service Shortener, baseURL string, logger *zap.Logger) *URLHandler {
	return &URLHandler{
		service: service,
		baseURL: baseURL,
		now:     time.Now,
		logger:  logger,
	}
}

func (h *URLHandler) Shorten(ctx context.Context, req *ShortenRequest) (*ShortenResponse, error) {
	record, created, err := h.service.Shorten(ctx, shortener.ShortenInput{
		OriginalValue: req.Body.URL,
		TTL:           time.Duration(req.Body.TTLSeconds) * time.Second,
		Client:        clientFrom(ctx),
	})
	if err != nil {
		return nil, h.httpError(err, "failed to shorten url")
	}

	link := fmt.Sprintf("%s/%s", h.baseURL, record.ShortCode)

	resp := &ShortenResponse{Status: http.StatusOK}
	if created {
		resp.Status = http.StatusCreated
	}

	resp.Headers.Location = link
	resp.Body.Code = string(record.ShortCode)
	resp.Body.ShortURL = link
	resp.Body.OriginalURL = record.OriginalValue
	resp.Body.ID = record.ID
	resp.Body.Created = created
	resp.Body.ExpiresAt = record.ExpiresAt

	return resp, nil
}

func (h *URLHandler) Redirect(ctx context.Context, req *CodePath) (*RedirectResponse, error) {
	record, err := h.service.Resolve(ctx, domain.Code(req.Code), clientFrom(ctx))
	if err != nil {
		return nil, h.httpError(err, "failed to resolve url")
	}

	resp := &RedirectResponse{Status: http.StatusFound}
	resp.Headers.Location = record.OriginalValue
	// Browsers must come back so expiry and deletion take effect.
	resp.Headers.CacheControl = "no-store"

	return resp, nil
}

func (h *URLHandler) Info(ctx context.Context, req *CodePath) (*RecordResponse, error) {
	record, err := h.service.Lookup(ctx, domain.Code(req.Code))
	if err != nil {
		return nil, h.httpError(err, "failed to load url")
	}

	return h.recordResponse(record), nil
}

func (h *URLHandler) InfoByID(ctx context.Context, req *SnowflakeRequest) (*RecordResponse, error) {
	record, err := h.service.LookupByID(ctx, req.ID)
	if err != nil {
		return nil, h.httpError(err, "failed to load url")
	}

	return h.recordResponse(record), nil
}

func (h *URLHandler) Delete(ctx context.Context, req *InvalidationQuery) (*struct{}, error) {
	code := domain.Code(req.Code)

	var err error
	if req.SkipInvalidation {
		err = h.service.DeleteRecordOnly(ctx, code)
	} else {
		err = h.service.Delete(ctx, code)
	}

	if err != nil {
		return nil, h.httpError(err, "failed to delete url")
	}

	return nil, nil
}

func (h *URLHandler) Expire(ctx context.Context, req *InvalidationQuery) (*RecordResponse, error) {
	record, err := h.service.Expire(ctx, domain.Code(req.Code), !req.SkipInvalidation)
	if err != nil {
		return nil, h.httpError(err, "failed to expire url")
	}

	return h.recordResponse(record), nil
}

func (h *URLHandler) recordResponse(record *domain.Record) *RecordResponse {
	return &RecordResponse{Body: RecordBody{
		Record:  *record,
		Expired: record.IsExpired(h.now()),
	}}
}

func (h *URLHandler) httpError(err error, msg string) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return huma.Error404NotFound("short url not found")
	case errors.Is(err, shortener.ErrEmptyValue):
		return huma.Error400BadRequest(err.Error())
	case errors.Is(err, shortener.ErrCodeGeneration):
		h.logger.Error(msg, zap.Error(err))

		return huma.Error503ServiceUnavailable("no short code available, retry later")
	default:
		h.logger.Error(msg, zap.Error(err))

		return huma.Error500InternalServerError(msg)
	}
}
