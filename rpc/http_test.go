package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"tranchebook/native/lending"
	"tranchebook/storage"
	"tranchebook/storage/ledgerstore"
)

const (
	testToken   = "secret-token"
	testStart   = uint64(200*86_400 + 10_800)
	testProgram = uint32(7)
)

var (
	borrowerAddr   = common.BytesToAddress([]byte{0xb0})
	creditLineAddr = common.BytesToAddress([]byte{0xc1})
	poolAddr       = common.BytesToAddress([]byte{0xd0})
	treasuryAddr   = common.BytesToAddress([]byte{0xe0})
)

func newTestServer(t *testing.T) (*Server, *lending.Engine) {
	t.Helper()
	store := ledgerstore.New(storage.NewMemDB())

	token := lending.NewMemoryToken()
	token.Mint(poolAddr, 1_000_000_000)

	engine := lending.NewEngine(lending.Config{AccuracyUnit: 100})
	engine.SetState(store)
	engine.SetToken(token)
	engine.SetAddonTreasury(treasuryAddr)
	engine.RegisterCreditLine(creditLineAddr, lending.NoopCreditLine{})
	engine.RegisterLiquidityPool(poolAddr, lending.NoopLiquidityPool{})
	engine.SetBlockTimestamp(testStart)

	if err := engine.OpenProgram(testProgram, creditLineAddr, poolAddr); err != nil {
		t.Fatalf("open program: %v", err)
	}

	server := NewServer(engine, store, testToken)
	server.now = func() uint64 { return testStart }
	return server, engine
}

func call(t *testing.T, server *Server, authorized bool, method string, params interface{}) (*httptest.ResponseRecorder, RPCResponse) {
	t.Helper()
	req := RPCRequest{JSONRPC: jsonRPCVersion, Method: method, ID: 1}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			t.Fatalf("marshal params: %v", err)
		}
		req.Params = []json.RawMessage{raw}
	}
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	httpReq := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	if authorized {
		httpReq.Header.Set("Authorization", "Bearer "+testToken)
	}
	recorder := httptest.NewRecorder()
	server.handle(recorder, httpReq)

	var resp RPCResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return recorder, resp
}

func resultInto(t *testing.T, resp RPCResponse, out interface{}) {
	t.Helper()
	raw, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("re-marshal result: %v", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		t.Fatalf("decode result: %v", err)
	}
}

func takeTestLoan(t *testing.T, server *Server) uint64 {
	t.Helper()
	_, resp := call(t, server, true, "lending_takeLoan", takeLoanParams{
		ProgramID: testProgram,
		Borrower:  borrowerAddr.Hex(),
		SubLoans: []subLoanRequestParams{{
			BorrowedAmount: 100_000,
			AddonAmount:    10_000,
			Duration:       30,
			Rates:          lending.Rates{Primary: 1_000_000},
		}},
	})
	if resp.Error != nil {
		t.Fatalf("take loan: %+v", resp.Error)
	}
	var result takeLoanResult
	resultInto(t, resp, &result)
	if result.FirstSubLoanID == 0 {
		t.Fatalf("expected nonzero sub-loan id")
	}
	return result.FirstSubLoanID
}

func TestHandleRejectsNonPost(t *testing.T) {
	server, _ := newTestServer(t)
	recorder := httptest.NewRecorder()
	server.handle(recorder, httptest.NewRequest(http.MethodGet, "/", nil))
	if recorder.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", recorder.Code)
	}
}

func TestHandleRejectsEmptyBody(t *testing.T) {
	server, _ := newTestServer(t)
	recorder := httptest.NewRecorder()
	server.handle(recorder, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("  ")))
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
}

func TestHandleRejectsMalformedJSON(t *testing.T) {
	server, _ := newTestServer(t)
	recorder := httptest.NewRecorder()
	server.handle(recorder, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{not json")))
	var resp RPCResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != codeParseError {
		t.Fatalf("expected parse error, got %+v", resp.Error)
	}
}

func TestHandleRejectsUnknownMethod(t *testing.T) {
	server, _ := newTestServer(t)
	recorder, resp := call(t, server, false, "lending_nonexistent", nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("expected method-not-found, got %+v", resp.Error)
	}
}

func TestMutatingMethodsRequireAuth(t *testing.T) {
	server, _ := newTestServer(t)
	for _, method := range []string{
		"lending_openProgram",
		"lending_closeProgram",
		"lending_takeLoan",
		"lending_revokeLoan",
		"lending_submitOperation",
		"lending_voidOperation",
		"lending_advanceSubLoan",
	} {
		recorder, resp := call(t, server, false, method, subLoanParams{SubLoanID: 1})
		if recorder.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", method, recorder.Code)
		}
		if resp.Error == nil || resp.Error.Code != codeUnauthorized {
			t.Fatalf("%s: expected unauthorized error, got %+v", method, resp.Error)
		}
	}
}

func TestRequireAuthRejectsWrongToken(t *testing.T) {
	server, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	if authErr := server.requireAuth(req); authErr == nil {
		t.Fatalf("expected rejection of wrong token")
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	if authErr := server.requireAuth(req); authErr != nil {
		t.Fatalf("expected valid token to pass, got %+v", authErr)
	}
}

func TestTakeLoanAndGetSubLoan(t *testing.T) {
	server, _ := newTestServer(t)
	id := takeTestLoan(t, server)

	_, resp := call(t, server, false, "lending_getSubLoan", subLoanParams{SubLoanID: id})
	if resp.Error != nil {
		t.Fatalf("get sub-loan: %+v", resp.Error)
	}
	var sl lending.SubLoan
	resultInto(t, resp, &sl)
	if sl.ID != id {
		t.Fatalf("expected id %d, got %d", id, sl.ID)
	}
	if got := sl.State.Balances[lending.ComponentPrincipal].Tracked; got != 110_000 {
		t.Fatalf("expected principal 110000, got %d", got)
	}
}

func TestGetSubLoanNotFound(t *testing.T) {
	server, _ := newTestServer(t)
	recorder, resp := call(t, server, false, "lending_getSubLoan", subLoanParams{SubLoanID: 42})
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
	if resp.Error == nil || resp.Error.Code != codeServerError {
		t.Fatalf("expected server error code, got %+v", resp.Error)
	}
}

func TestSubmitOperationByKindName(t *testing.T) {
	server, _ := newTestServer(t)
	id := takeTestLoan(t, server)

	_, resp := call(t, server, true, "lending_submitOperation", map[string]interface{}{
		"subLoanId": id,
		"kind":      "repayment",
		"value":     50_000,
		"account":   borrowerAddr.Hex(),
	})
	if resp.Error != nil {
		t.Fatalf("submit repayment: %+v", resp.Error)
	}
	var op lending.Operation
	resultInto(t, resp, &op)
	if op.Kind != lending.OpRepayment {
		t.Fatalf("expected repayment kind, got %v", op.Kind)
	}
	if op.Status != lending.OperationApplied {
		t.Fatalf("expected applied status, got %v", op.Status)
	}
}

func TestSubmitOperationRejectsInvalidValue(t *testing.T) {
	server, _ := newTestServer(t)
	id := takeTestLoan(t, server)

	recorder, resp := call(t, server, true, "lending_submitOperation", map[string]interface{}{
		"subLoanId": id,
		"kind":      "repayment",
		"value":     55, // not a multiple of the accuracy unit
		"account":   borrowerAddr.Hex(),
	})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	if resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("expected invalid params, got %+v", resp.Error)
	}
}

func TestSubmitOperationRejectsUnknownKindName(t *testing.T) {
	server, _ := newTestServer(t)
	id := takeTestLoan(t, server)

	_, resp := call(t, server, true, "lending_submitOperation", map[string]interface{}{
		"subLoanId": id,
		"kind":      "jackpot",
	})
	if resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("expected invalid params, got %+v", resp.Error)
	}
}

func TestVoidOperationReportsNewStatus(t *testing.T) {
	server, _ := newTestServer(t)
	id := takeTestLoan(t, server)

	_, resp := call(t, server, true, "lending_submitOperation", map[string]interface{}{
		"subLoanId": id,
		"kind":      "repayment",
		"value":     50_000,
		"account":   borrowerAddr.Hex(),
	})
	if resp.Error != nil {
		t.Fatalf("submit repayment: %+v", resp.Error)
	}
	var op lending.Operation
	resultInto(t, resp, &op)

	_, resp = call(t, server, true, "lending_voidOperation", voidOperationParams{
		SubLoanID:    id,
		OperationID:  op.ID,
		Counterparty: borrowerAddr.Hex(),
	})
	if resp.Error != nil {
		t.Fatalf("void operation: %+v", resp.Error)
	}
	var voided lending.Operation
	resultInto(t, resp, &voided)
	if voided.Status != lending.OperationRevoked {
		t.Fatalf("expected revoked status, got %v", voided.Status)
	}
}

func TestListOperationsOrdering(t *testing.T) {
	server, _ := newTestServer(t)
	id := takeTestLoan(t, server)

	for _, day := range []uint64{5, 3} {
		_, resp := call(t, server, true, "lending_submitOperation", map[string]interface{}{
			"subLoanId": id,
			"kind":      "primary_rate_setting",
			"value":     2_000_000,
			"timestamp": testStart + day*86_400,
		})
		if resp.Error != nil {
			t.Fatalf("submit day %d: %+v", day, resp.Error)
		}
	}

	_, resp := call(t, server, false, "lending_listOperations", subLoanParams{SubLoanID: id})
	if resp.Error != nil {
		t.Fatalf("list operations: %+v", resp.Error)
	}
	var ops []lending.Operation
	resultInto(t, resp, &ops)
	if len(ops) != 2 {
		t.Fatalf("expected 2 operations, got %d", len(ops))
	}
	if ops[0].Timestamp > ops[1].Timestamp {
		t.Fatalf("operations not in chain order: %d then %d", ops[0].Timestamp, ops[1].Timestamp)
	}
}

func TestPreviewSubLoanProjectsForward(t *testing.T) {
	server, _ := newTestServer(t)
	id := takeTestLoan(t, server)

	_, resp := call(t, server, false, "lending_previewSubLoan", previewParams{
		SubLoanID: id,
		Timestamp: testStart + 10*86_400,
	})
	if resp.Error != nil {
		t.Fatalf("preview: %+v", resp.Error)
	}
	var preview lending.SubLoanPreview
	resultInto(t, resp, &preview)
	if preview.SubLoanID != id {
		t.Fatalf("expected sub-loan %d, got %d", id, preview.SubLoanID)
	}
	if preview.OutstandingBalance <= 110_000 {
		t.Fatalf("expected interest in projection, got %d", preview.OutstandingBalance)
	}
}

func TestRevokeLoanReturnsFunds(t *testing.T) {
	server, engine := newTestServer(t)
	id := takeTestLoan(t, server)

	_, resp := call(t, server, true, "lending_revokeLoan", subLoanParams{SubLoanID: id})
	if resp.Error != nil {
		t.Fatalf("revoke: %+v", resp.Error)
	}
	sl, err := engine.GetSubLoan(id)
	if err != nil {
		t.Fatalf("get sub-loan: %v", err)
	}
	if sl.State.Status != lending.SubLoanRevoked {
		t.Fatalf("expected revoked status, got %v", sl.State.Status)
	}
}

func TestCloseProgramBarsNewLoans(t *testing.T) {
	server, _ := newTestServer(t)
	if _, resp := call(t, server, true, "lending_closeProgram", programParams{ProgramID: testProgram}); resp.Error != nil {
		t.Fatalf("close program: %+v", resp.Error)
	}
	_, resp := call(t, server, true, "lending_takeLoan", takeLoanParams{
		ProgramID: testProgram,
		Borrower:  borrowerAddr.Hex(),
		SubLoans: []subLoanRequestParams{{
			BorrowedAmount: 10_000,
			Duration:       10,
		}},
	})
	if resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("expected rejection after close, got %+v", resp.Error)
	}
}

func TestListEventsReturnsJournal(t *testing.T) {
	server, _ := newTestServer(t)
	takeTestLoan(t, server)

	_, resp := call(t, server, false, "lending_listEvents", listEventsParams{Limit: 10})
	if resp.Error != nil {
		t.Fatalf("list events: %+v", resp.Error)
	}
	events, ok := resp.Result.([]interface{})
	if !ok || len(events) == 0 {
		t.Fatalf("expected journaled events, got %v", resp.Result)
	}
}

func TestOversizedBodyRejected(t *testing.T) {
	server, _ := newTestServer(t)
	body := fmt.Sprintf(`{"jsonrpc":"2.0","method":"lending_getSubLoan","id":1,"params":[{"pad":%q}]}`,
		strings.Repeat("x", maxRequestBytes+1))
	recorder := httptest.NewRecorder()
	server.handle(recorder, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))
	if recorder.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", recorder.Code)
	}
}
