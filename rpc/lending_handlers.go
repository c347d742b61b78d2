package rpc

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"tranchebook/native/lending"
	"tranchebook/observability/logging"
	"tranchebook/observability/metrics"
)

type programParams struct {
	ProgramID     uint32 `json:"programId"`
	CreditLine    string `json:"creditLine,omitempty"`
	LiquidityPool string `json:"liquidityPool,omitempty"`
}

type subLoanRequestParams struct {
	BorrowedAmount uint64        `json:"borrowedAmount"`
	AddonAmount    uint64        `json:"addonAmount"`
	Duration       uint32        `json:"duration"`
	Rates          lending.Rates `json:"rates"`
}

type takeLoanParams struct {
	ProgramID      uint32                 `json:"programId"`
	Borrower       string                 `json:"borrower"`
	StartTimestamp uint64                 `json:"startTimestamp,omitempty"`
	SubLoans       []subLoanRequestParams `json:"subLoans"`
}

type takeLoanResult struct {
	FirstSubLoanID uint64 `json:"firstSubLoanId"`
}

type subLoanParams struct {
	SubLoanID uint64 `json:"subLoanId"`
}

type submitOperationParams struct {
	SubLoanID uint64             `json:"subLoanId"`
	Kind      operationKindParam `json:"kind"`
	Timestamp uint64             `json:"timestamp,omitempty"`
	Value     uint64             `json:"value,omitempty"`
	Account   string             `json:"account,omitempty"`
}

type voidOperationParams struct {
	SubLoanID    uint64 `json:"subLoanId"`
	OperationID  uint64 `json:"operationId"`
	Counterparty string `json:"counterparty,omitempty"`
}

type operationParams struct {
	SubLoanID   uint64 `json:"subLoanId"`
	OperationID uint64 `json:"operationId"`
}

type previewParams struct {
	SubLoanID uint64 `json:"subLoanId"`
	Timestamp uint64 `json:"timestamp,omitempty"`
}

type listEventsParams struct {
	From  uint64 `json:"from,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

// operationKindParam accepts either the numeric kind or its snake_case name.
type operationKindParam struct {
	kind lending.OperationKind
}

func (p *operationKindParam) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		for k := lending.OpRepayment; k <= lending.OpRevocation; k++ {
			if k.String() == name {
				p.kind = k
				return nil
			}
		}
		return fmt.Errorf("unknown operation kind %q", name)
	}
	var numeric uint8
	if err := json.Unmarshal(data, &numeric); err != nil {
		return err
	}
	p.kind = lending.OperationKind(numeric)
	return nil
}

func decodeSingleParam(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("expected exactly one parameter object, got %d", len(req.Params))
	}
	return json.Unmarshal(req.Params[0], out)
}

func parseAddress(raw string) (common.Address, error) {
	if raw == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("invalid address %q", raw)
	}
	return common.HexToAddress(raw), nil
}

func (s *Server) handleOpenProgram(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params programParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	creditLine, err := parseAddress(params.CreditLine)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	pool, err := parseAddress(params.LiquidityPool)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.engine.OpenProgram(params.ProgramID, creditLine, pool); err != nil {
		writeLendingError(w, req.ID, err)
		return
	}
	// In-process deployments have no external collaborator services; the
	// addresses stay bound to no-op hooks until code wires real ones.
	s.engine.RegisterCreditLine(creditLine, lending.NoopCreditLine{})
	s.engine.RegisterLiquidityPool(pool, lending.NoopLiquidityPool{})
	writeResult(w, req.ID, map[string]uint32{"programId": params.ProgramID})
}

func (s *Server) handleCloseProgram(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params programParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	if err := s.engine.CloseProgram(params.ProgramID); err != nil {
		writeLendingError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]uint32{"programId": params.ProgramID})
}

func (s *Server) handleTakeLoan(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params takeLoanParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	borrower, err := parseAddress(params.Borrower)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	subs := make([]lending.SubLoanRequest, len(params.SubLoans))
	for i, sub := range params.SubLoans {
		subs[i] = lending.SubLoanRequest{
			BorrowedAmount: sub.BorrowedAmount,
			AddonAmount:    sub.AddonAmount,
			Duration:       sub.Duration,
			Rates:          sub.Rates,
		}
	}
	s.syncClock()
	firstID, err := s.engine.TakeLoan(lending.LoanRequest{
		ProgramID:      params.ProgramID,
		Borrower:       borrower,
		StartTimestamp: params.StartTimestamp,
	}, subs)
	if err != nil {
		writeLendingError(w, req.ID, err)
		return
	}
	metrics.Lending().RecordLoanTaken()
	slog.LogAttrs(r.Context(), slog.LevelInfo, "loan taken",
		slog.Uint64("subLoanId", firstID),
		slog.Uint64("programId", uint64(params.ProgramID)),
		logging.MaskField("borrower", params.Borrower),
	)
	writeResult(w, req.ID, takeLoanResult{FirstSubLoanID: firstID})
}

func (s *Server) handleRevokeLoan(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params subLoanParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	s.syncClock()
	if err := s.engine.RevokeLoan(params.SubLoanID); err != nil {
		writeLendingError(w, req.ID, err)
		return
	}
	metrics.Lending().RecordLoanRevoked()
	writeResult(w, req.ID, map[string]bool{"revoked": true})
}

func (s *Server) handleSubmitOperation(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params submitOperationParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	account, err := parseAddress(params.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	s.syncClock()
	op, err := s.engine.SubmitOperation(lending.OperationRequest{
		SubLoanID: params.SubLoanID,
		Kind:      params.Kind.kind,
		Timestamp: params.Timestamp,
		Value:     params.Value,
		Account:   account,
	})
	if err != nil {
		writeLendingError(w, req.ID, err)
		return
	}
	metrics.Lending().RecordOperationSubmitted(op.Kind.String(), op.Status.String())
	slog.LogAttrs(r.Context(), slog.LevelInfo, "operation submitted",
		slog.Uint64("subLoanId", op.SubLoanID),
		slog.Uint64("operationId", op.ID),
		slog.String("kind", op.Kind.String()),
		slog.String("status", op.Status.String()),
		logging.MaskField("account", params.Account),
	)
	writeResult(w, req.ID, op)
}

func (s *Server) handleVoidOperation(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params voidOperationParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	counterparty, err := parseAddress(params.Counterparty)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	s.syncClock()
	if err := s.engine.VoidOperation(params.SubLoanID, params.OperationID, counterparty); err != nil {
		writeLendingError(w, req.ID, err)
		return
	}
	op, err := s.engine.GetOperation(params.SubLoanID, params.OperationID)
	if err != nil {
		writeLendingError(w, req.ID, err)
		return
	}
	metrics.Lending().RecordOperationVoided(op.Status.String())
	writeResult(w, req.ID, op)
}

func (s *Server) handleAdvanceSubLoan(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params subLoanParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	s.syncClock()
	started := time.Now()
	if err := s.engine.AdvanceSubLoan(params.SubLoanID); err != nil {
		writeLendingError(w, req.ID, err)
		return
	}
	metrics.Lending().ObserveAdvance(time.Since(started).Seconds())
	sl, err := s.engine.GetSubLoan(params.SubLoanID)
	if err != nil {
		writeLendingError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, sl)
}

func (s *Server) handleGetSubLoan(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params subLoanParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	sl, err := s.engine.GetSubLoan(params.SubLoanID)
	if err != nil {
		writeLendingError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, sl)
}

func (s *Server) handleGetOperation(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params operationParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	op, err := s.engine.GetOperation(params.SubLoanID, params.OperationID)
	if err != nil {
		writeLendingError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, op)
}

func (s *Server) handleListOperations(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params subLoanParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	ops, err := s.engine.ListOperations(params.SubLoanID)
	if err != nil {
		writeLendingError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ops)
}

func (s *Server) handlePreviewSubLoan(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params previewParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	s.syncClock()
	preview, err := s.engine.GetSubLoanPreview(params.SubLoanID, params.Timestamp)
	if err != nil {
		writeLendingError(w, req.ID, err)
		return
	}
	metrics.Lending().RecordPreview("subloan")
	writeResult(w, req.ID, preview)
}

func (s *Server) handlePreviewLoan(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params previewParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	s.syncClock()
	preview, err := s.engine.GetLoanPreview(params.SubLoanID, params.Timestamp)
	if err != nil {
		writeLendingError(w, req.ID, err)
		return
	}
	metrics.Lending().RecordPreview("loan")
	writeResult(w, req.ID, preview)
}

func (s *Server) handleListEvents(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params listEventsParams
	if len(req.Params) > 0 {
		if err := decodeSingleParam(req, &params); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
			return
		}
	}
	if params.Limit <= 0 || params.Limit > 1000 {
		params.Limit = 100
	}
	events, err := s.store.Events(params.From, params.Limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, events)
}
