package routes

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"tranchebook/native/lending"
	"tranchebook/storage"
	"tranchebook/storage/ledgerstore"
)

const (
	testStart   = uint64(200*86_400 + 10_800)
	testProgram = uint32(3)
)

var (
	borrowerAddr   = common.BytesToAddress([]byte{0xb0})
	creditLineAddr = common.BytesToAddress([]byte{0xc1})
	poolAddr       = common.BytesToAddress([]byte{0xd0})
	treasuryAddr   = common.BytesToAddress([]byte{0xe0})
)

func newTestRouter(t *testing.T) (http.Handler, *lending.Engine, uint64) {
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

	require.NoError(t, engine.OpenProgram(testProgram, creditLineAddr, poolAddr))

	firstID, err := engine.TakeLoan(lending.LoanRequest{
		ProgramID: testProgram,
		Borrower:  borrowerAddr,
	}, []lending.SubLoanRequest{{
		BorrowedAmount: 100_000,
		AddonAmount:    10_000,
		Duration:       30,
		Rates:          lending.Rates{Primary: 1_000_000},
	}})
	require.NoError(t, err)

	handler := New(Config{Engine: engine, Store: store})
	return handler, engine, firstID
}

func get(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, path, nil))
	return recorder
}

func TestHealthz(t *testing.T) {
	handler, _, _ := newTestRouter(t)
	recorder := get(t, handler, "/healthz")
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Equal(t, "ok", recorder.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	handler, _, _ := newTestRouter(t)
	recorder := get(t, handler, "/metrics")
	require.Equal(t, http.StatusOK, recorder.Code)
}

func TestGetSubLoan(t *testing.T) {
	handler, _, firstID := newTestRouter(t)
	recorder := get(t, handler, "/v1/lending/subloans/"+uitoa(firstID))
	require.Equal(t, http.StatusOK, recorder.Code)

	var sl lending.SubLoan
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &sl))
	require.Equal(t, firstID, sl.ID)
	require.Equal(t, uint64(110_000), sl.State.Balances[lending.ComponentPrincipal].Tracked)
}

func TestGetSubLoanNotFound(t *testing.T) {
	handler, _, _ := newTestRouter(t)
	recorder := get(t, handler, "/v1/lending/subloans/99")
	require.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestGetSubLoanBadID(t *testing.T) {
	handler, _, _ := newTestRouter(t)
	recorder := get(t, handler, "/v1/lending/subloans/abc")
	require.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestListOperations(t *testing.T) {
	handler, engine, firstID := newTestRouter(t)
	_, err := engine.SubmitOperation(lending.OperationRequest{
		SubLoanID: firstID,
		Kind:      lending.OpRepayment,
		Value:     10_000,
		Account:   borrowerAddr,
	})
	require.NoError(t, err)

	recorder := get(t, handler, "/v1/lending/subloans/"+uitoa(firstID)+"/operations")
	require.Equal(t, http.StatusOK, recorder.Code)

	var ops []lending.Operation
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &ops))
	require.Len(t, ops, 1)
	require.Equal(t, lending.OpRepayment, ops[0].Kind)

	recorder = get(t, handler, "/v1/lending/subloans/"+uitoa(firstID)+"/operations/"+uitoa(ops[0].ID))
	require.Equal(t, http.StatusOK, recorder.Code)
}

func TestPreviewSubLoanFuture(t *testing.T) {
	handler, _, firstID := newTestRouter(t)
	target := testStart + 10*86_400
	recorder := get(t, handler, "/v1/lending/subloans/"+uitoa(firstID)+"/preview?timestamp="+uitoa(target))
	require.Equal(t, http.StatusOK, recorder.Code)

	var preview lending.SubLoanPreview
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &preview))
	require.Equal(t, firstID, preview.SubLoanID)
	require.Greater(t, preview.OutstandingBalance, uint64(110_000))
}

func TestPreviewLoanAggregates(t *testing.T) {
	handler, _, firstID := newTestRouter(t)
	target := testStart + 86_400
	recorder := get(t, handler, "/v1/lending/loans/"+uitoa(firstID)+"/preview?timestamp="+uitoa(target))
	require.Equal(t, http.StatusOK, recorder.Code)

	var preview lending.LoanPreview
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &preview))
	require.Equal(t, firstID, preview.FirstSubLoanID)
	require.Len(t, preview.SubLoans, 1)
}

func TestPreviewRejectsBadTimestamp(t *testing.T) {
	handler, _, firstID := newTestRouter(t)
	recorder := get(t, handler, "/v1/lending/subloans/"+uitoa(firstID)+"/preview?timestamp=later")
	require.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestListEvents(t *testing.T) {
	handler, _, _ := newTestRouter(t)
	recorder := get(t, handler, "/v1/lending/events?limit=10")
	require.Equal(t, http.StatusOK, recorder.Code)

	var events []json.RawMessage
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &events))
	require.NotEmpty(t, events)
}

func TestListEventsRejectsBadLimit(t *testing.T) {
	handler, _, _ := newTestRouter(t)
	recorder := get(t, handler, "/v1/lending/events?limit=0")
	require.Equal(t, http.StatusBadRequest, recorder.Code)
}

func uitoa(v uint64) string {
	return strconv.FormatUint(v, 10)
}
