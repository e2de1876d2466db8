package dashboard

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/duka-ledger/duka/internal/ledger"
	"github.com/duka-ledger/duka/internal/platform/httpx"
)

// Handler exposes the read models over HTTP.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler builds Handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger}
}

// MountRoutes registers dashboard routes under /api.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/dashboard", h.summary)
	r.Get("/inventory", h.inventory)
	r.Get("/credit-ledger", h.creditLedger)
}

// ListRecent serves GET /api/transactions.
func (h *Handler) ListRecent(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	txns, err := h.service.RecentTransactions(r.Context(), httpx.OwnerFromContext(r.Context()), limit)
	if err != nil {
		h.fail(w, "list transactions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"transactions": txns})
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.Summary(r.Context(), httpx.OwnerFromContext(r.Context()))
	if err != nil {
		h.fail(w, "dashboard summary", err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) inventory(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.Inventory(r.Context(), httpx.OwnerFromContext(r.Context()))
	if err != nil {
		h.fail(w, "list inventory", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) creditLedger(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.CreditLedger(r.Context(), httpx.OwnerFromContext(r.Context()))
	if err != nil {
		h.fail(w, "list credit ledger", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrMissingOwner):
		err = fmt.Errorf("%w: %s header required", httpx.ErrValidation, httpx.OwnerHeader)
	case errors.Is(err, ledger.ErrConflict):
		err = fmt.Errorf("%w: %v", httpx.ErrConflict, err)
	case errors.Is(err, ledger.ErrUnavailable):
		err = fmt.Errorf("%w: storage unavailable", httpx.ErrUnavailable)
	default:
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
