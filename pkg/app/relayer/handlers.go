package relayer

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	apphttp "github.com/omnibridge/bridge-runtime/pkg/app/http"
	"github.com/omnibridge/bridge-runtime/pkg/bridgeerr"
	"github.com/omnibridge/bridge-runtime/pkg/db"
)

const defaultOperationsPageSize = 50

// handleListOperations serves the public read API: the live operations
// owned by an address, paged.
func handleListOperations(store *db.Store, logger *zap.Logger) http.HandlerFunc {
	return apphttp.HandleError(func(w http.ResponseWriter, r *http.Request) error {
		address := r.URL.Query().Get("address")
		if address == "" {
			return bridgeerr.InvalidRequest("address query parameter is required")
		}
		limit := defaultOperationsPageSize
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limit = n
			}
		}
		offset := 0
		if v := r.URL.Query().Get("offset"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				offset = n
			}
		}

		ops, err := store.ListOperationsForAddress(r.Context(), address, limit, offset)
		if err != nil {
			logger.Error("list operations failed", zap.String("address", address), zap.Error(err))
			return err
		}

		out := make([]map[string]any, 0, len(ops))
		for _, op := range ops {
			entry := map[string]any{
				"id":         op.ID,
				"stage":      op.Stage,
				"status":     op.Status,
				"address":    op.Address,
				"attempts":   op.Attempts,
				"created_at": op.CreatedAt,
				"updated_at": op.UpdatedAt,
			}
			if op.Memo != nil {
				entry["memo"] = *op.Memo
			}
			if op.LastError != nil {
				entry["last_error"] = *op.LastError
			}
			out = append(out, entry)
		}
		return apphttp.RespondJSON(w, http.StatusOK, map[string]any{"operations": out})
	})
}
