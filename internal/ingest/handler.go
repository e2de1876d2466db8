package ingest

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/duka-ledger/duka/internal/ledger"
	"github.com/duka-ledger/duka/internal/platform/httpx"
)

// MaxTextLength bounds a single submission.
const MaxTextLength = 2000

// Handler wires the ingestion endpoint.
type Handler struct {
	service   *Service
	logger    *slog.Logger
	validator *validator.Validate
}

// NewHandler constructs Handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger, validator: validator.New()}
}

// MountRoutes registers POST /transactions.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/transactions", h.create)
}

type createRequest struct {
	Text string `json:"text" validate:"required,max=2000"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 16<<10)
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		detail := err.Error()
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			detail = fmt.Sprintf("text fails %q (max %d characters)", fieldErrs[0].Tag(), MaxTextLength)
		}
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", detail)
		return
	}

	result, err := h.service.Ingest(r.Context(), httpx.OwnerFromContext(r.Context()), req.Text)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrMissingOwner):
		err = fmt.Errorf("%w: %s header required", httpx.ErrValidation, httpx.OwnerHeader)
	case errors.Is(err, ErrEmptyText), errors.Is(err, ledger.ErrInvalidCandidate):
		err = fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	case errors.Is(err, ledger.ErrConflict):
		err = fmt.Errorf("%w: transaction not applied, resubmit", httpx.ErrConflict)
	case errors.Is(err, ledger.ErrUnavailable):
		err = fmt.Errorf("%w: transaction not applied, resubmit", httpx.ErrUnavailable)
	case errors.Is(err, ledger.ErrOutcomeUnknown):
		h.logger.Error("ingest outcome unknown", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Outcome Unknown",
			"the transaction may have been stored; check recent transactions before resubmitting")
		return
	default:
		h.logger.Error("ingest failed", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
