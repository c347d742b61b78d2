package routes

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"tranchebook/native/lending"
	"tranchebook/observability/metrics"
	"tranchebook/storage/ledgerstore"
)

// lendingRoutes serves the ledger's read surface. Mutations go through the
// JSON-RPC server; the gateway only answers queries and previews.
type lendingRoutes struct {
	engine *lending.Engine
	store  *ledgerstore.Store
	now    func() uint64
}

func (lr *lendingRoutes) mount(r chi.Router) {
	r.Get("/subloans/{subLoanID}", lr.getSubLoan)
	r.Get("/subloans/{subLoanID}/operations", lr.listOperations)
	r.Get("/subloans/{subLoanID}/operations/{operationID}", lr.getOperation)
	r.Get("/subloans/{subLoanID}/preview", lr.previewSubLoan)
	r.Get("/loans/{subLoanID}/preview", lr.previewLoan)
	r.Get("/events", lr.listEvents)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, lending.ErrSubLoanNonexistent),
		errors.Is(err, lending.ErrOperationNonexistent),
		errors.Is(err, lending.ErrProgramNonexistent):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case strings.HasPrefix(err.Error(), "lending: "):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}

func pathUint(r *http.Request, name string) (uint64, error) {
	return strconv.ParseUint(chi.URLParam(r, name), 10, 64)
}

func queryUint(r *http.Request, name string) (uint64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseUint(raw, 10, 64)
}

func (lr *lendingRoutes) getSubLoan(w http.ResponseWriter, r *http.Request) {
	id, err := pathUint(r, "subLoanID")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid sub-loan id"})
		return
	}
	sl, err := lr.engine.GetSubLoan(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sl)
}

func (lr *lendingRoutes) listOperations(w http.ResponseWriter, r *http.Request) {
	id, err := pathUint(r, "subLoanID")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid sub-loan id"})
		return
	}
	ops, err := lr.engine.ListOperations(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ops)
}

func (lr *lendingRoutes) getOperation(w http.ResponseWriter, r *http.Request) {
	subLoanID, err := pathUint(r, "subLoanID")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid sub-loan id"})
		return
	}
	operationID, err := pathUint(r, "operationID")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid operation id"})
		return
	}
	op, err := lr.engine.GetOperation(subLoanID, operationID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, op)
}

func (lr *lendingRoutes) previewSubLoan(w http.ResponseWriter, r *http.Request) {
	id, err := pathUint(r, "subLoanID")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid sub-loan id"})
		return
	}
	target, err := queryUint(r, "timestamp")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid timestamp"})
		return
	}
	lr.engine.SetBlockTimestamp(lr.now())
	preview, err := lr.engine.GetSubLoanPreview(id, target)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	metrics.Lending().RecordPreview("subloan")
	writeJSON(w, http.StatusOK, preview)
}

func (lr *lendingRoutes) previewLoan(w http.ResponseWriter, r *http.Request) {
	id, err := pathUint(r, "subLoanID")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid sub-loan id"})
		return
	}
	target, err := queryUint(r, "timestamp")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid timestamp"})
		return
	}
	lr.engine.SetBlockTimestamp(lr.now())
	preview, err := lr.engine.GetLoanPreview(id, target)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	metrics.Lending().RecordPreview("loan")
	writeJSON(w, http.StatusOK, preview)
}

func (lr *lendingRoutes) listEvents(w http.ResponseWriter, r *http.Request) {
	from, err := queryUint(r, "from")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid from cursor"})
		return
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 1000 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid limit"})
			return
		}
		limit = parsed
	}
	events, err := lr.store.Events(from, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, events)
}
