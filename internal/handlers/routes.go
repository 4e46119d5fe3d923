package handlers

import (
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/shortlink/internal/ratelimit"
)

func limits(limits ...ratelimit.LimitConfig) map[string]any {
	return map[string]any{ratelimit.MetadataKey: ratelimit.EndpointConfig{Limits: limits}}
}

// RegisterRoutes registers the link endpoints.
func RegisterRoutes(api huma.API, h *URLHandler) {
	huma.Register(api, huma.Operation{
		OperationID: "shorten",
		Method:      http.MethodPost,
		Path:        "/api/shorten",
		Summary:     "Create short link",
		Description: "Returns the live link for the value or mints a new one.",
		Tags:        []string{"URLs"},
		Metadata: limits(
			ratelimit.LimitConfig{Window: time.Minute, Max: 10},
			ratelimit.LimitConfig{Window: time.Hour, Max: 100},
			ratelimit.LimitConfig{Window: 24 * time.Hour, Max: 500},
		),
	}, h.Shorten)

	huma.Register(api, huma.Operation{
		OperationID: "redirect",
		Method:      http.MethodGet,
		Path:        "/{code}",
		Summary:     "Redirect to original value",
		Tags:        []string{"URLs"},
		Metadata:    limits(ratelimit.LimitConfig{Window: time.Minute, Max: 1000}),
	}, h.Redirect)

	huma.Register(api, huma.Operation{
		OperationID: "get-url",
		Method:      http.MethodGet,
		Path:        "/api/urls/{code}",
		Summary:     "Get the stored record",
		Description: "Reads the record store directly. Expired records are returned with expired set.",
		Tags:        []string{"URLs"},
	}, h.Info)

	huma.Register(api, huma.Operation{
		OperationID: "get-url-by-snowflake",
		Method:      http.MethodGet,
		Path:        "/api/urls/snowflake/{id}",
		Summary:     "Get the stored record by snowflake id",
		Tags:        []string{"URLs"},
	}, h.InfoByID)

	huma.Register(api, huma.Operation{
		OperationID:   "delete-url",
		Method:        http.MethodDelete,
		Path:          "/api/urls/{code}",
		Summary:       "Delete a link",
		Description:   "Deletes the record and evicts it from every cache unless skipInvalidation is set.",
		Tags:          []string{"URLs"},
		DefaultStatus: http.StatusNoContent,
	}, h.Delete)

	huma.Register(api, huma.Operation{
		OperationID: "expire-url",
		Method:      http.MethodPost,
		Path:        "/api/urls/{code}/expire",
		Summary:     "Expire a link now",
		Tags:        []string{"URLs"},
	}, h.Expire)
}

// RegisterOpsRoutes registers the operator endpoints.
func RegisterOpsRoutes(api huma.API, h *OpsHandler) {
	huma.Register(api, huma.Operation{
		OperationID: "cleanup-expired",
		Method:      http.MethodPost,
		Path:        "/api/urls/cleanup-expired",
		Summary:     "Run the expiry sweep",
		Tags:        []string{"Operations"},
	}, h.CleanupExpired)

	huma.Register(api, huma.Operation{
		OperationID: "reconcile",
		Method:      http.MethodPost,
		Path:        "/api/reconcile",
		Summary:     "Run the reconciliation sweep",
		Tags:        []string{"Operations"},
	}, h.Reconcile)

	huma.Register(api, huma.Operation{
		OperationID: "validate-url",
		Method:      http.MethodGet,
		Path:        "/api/urls/{code}/validate",
		Summary:     "Compare the cached snapshot with the record store",
		Tags:        []string{"Operations"},
	}, h.Validate)

	huma.Register(api, huma.Operation{
		OperationID: "parse-snowflake",
		Method:      http.MethodGet,
		Path:        "/api/snowflake/parse/{id}",
		Summary:     "Decode a snowflake identifier",
		Tags:        []string{"Operations"},
	}, h.ParseSnowflake)

	huma.Register(api, huma.Operation{
		OperationID: "insert-bulk",
		Method:      http.MethodPost,
		Path:        "/api/performance/insert-bulk",
		Summary:     "Insert synthetic records",
		Tags:        []string{"Operations"},
		Metadata:    limits(ratelimit.LimitConfig{Window: time.Minute, Max: 2}),
	}, h.InsertBulk)

	huma.Register(api, huma.Operation{
		OperationID: "store-status",
		Method:      http.MethodGet,
		Path:        "/api/performance/status",
		Summary:     "Count records and list the newest",
		Tags:        []string{"Operations"},
	}, h.Status)

	huma.Register(api, huma.Operation{
		OperationID: "check-duplicates",
		Method:      http.MethodGet,
		Path:        "/api/performance/check-duplicates",
		Summary:     "Count records that share a code, an id or a value",
		Tags:        []string{"Operations"},
	}, h.CheckDuplicates)
}
