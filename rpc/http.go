package rpc

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"tranchebook/native/lending"
	"tranchebook/observability"
	"tranchebook/storage/ledgerstore"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
)

// Server exposes the lending engine over JSON-RPC. Mutating methods require a
// bearer token when one is configured.
type Server struct {
	engine    *lending.Engine
	store     *ledgerstore.Store
	authToken string
	now       func() uint64
}

func NewServer(engine *lending.Engine, store *ledgerstore.Store, authToken string) *Server {
	return &Server{
		engine:    engine,
		store:     store,
		authToken: strings.TrimSpace(authToken),
		now:       func() uint64 { return uint64(time.Now().Unix()) },
	}
}

func (s *Server) Start(addr string) error {
	slog.Info("starting JSON-RPC server", "addr", addr)
	return http.ListenAndServe(addr, s.Handler())
}

// Handler returns the root JSON-RPC handler for mounting on a mux.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handle)
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// writeLendingError maps the engine's sentinel errors onto JSON-RPC error
// codes: lookups that found nothing report not-found, rejected inputs report
// invalid params, anything else is a server fault.
func writeLendingError(w http.ResponseWriter, id interface{}, err error) {
	switch {
	case errors.Is(err, lending.ErrProgramNonexistent),
		errors.Is(err, lending.ErrSubLoanNonexistent),
		errors.Is(err, lending.ErrOperationNonexistent):
		writeError(w, http.StatusNotFound, id, codeServerError, err.Error(), nil)
	case strings.HasPrefix(err.Error(), "lending: "):
		writeError(w, http.StatusBadRequest, id, codeInvalidParams, err.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError, id, codeServerError, err.Error(), nil)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	started := time.Now()
	method := s.dispatch(rec, r)
	observability.ModuleMetrics().Observe(method, rec.status, time.Since(started))
}

// dispatch routes the request and reports the method name for metrics.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) string {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, nil, codeInvalidRequest, "POST required", nil)
		return ""
	}

	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return ""
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return ""
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return ""
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return req.Method
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return ""
	}

	switch req.Method {
	case "lending_openProgram":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return req.Method
		}
		s.handleOpenProgram(w, r, req)
	case "lending_closeProgram":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return req.Method
		}
		s.handleCloseProgram(w, r, req)
	case "lending_takeLoan":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return req.Method
		}
		s.handleTakeLoan(w, r, req)
	case "lending_revokeLoan":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return req.Method
		}
		s.handleRevokeLoan(w, r, req)
	case "lending_submitOperation":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return req.Method
		}
		s.handleSubmitOperation(w, r, req)
	case "lending_voidOperation":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return req.Method
		}
		s.handleVoidOperation(w, r, req)
	case "lending_advanceSubLoan":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return req.Method
		}
		s.handleAdvanceSubLoan(w, r, req)
	case "lending_getSubLoan":
		s.handleGetSubLoan(w, r, req)
	case "lending_getOperation":
		s.handleGetOperation(w, r, req)
	case "lending_listOperations":
		s.handleListOperations(w, r, req)
	case "lending_previewSubLoan":
		s.handlePreviewSubLoan(w, r, req)
	case "lending_previewLoan":
		s.handlePreviewLoan(w, r, req)
	case "lending_listEvents":
		s.handleListEvents(w, r, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("method %q not found", req.Method), nil)
	}
	return req.Method
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return &RPCError{Code: codeUnauthorized, Message: "RPC authentication token not configured"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	return nil
}

// syncClock pins the engine's block timestamp to the wall clock before a
// mutating call. Reads do their own temporal targeting and skip this.
func (s *Server) syncClock() {
	s.engine.SetBlockTimestamp(s.now())
}
