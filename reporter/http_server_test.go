package reporter

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Futaba-Labs/catalyst-example-solver/pipeline"
)

type fakeWallet struct{}

func (fakeWallet) Balance() int64         { return 150_000 }
func (fakeWallet) CoinCount() int         { return 3 }
func (fakeWallet) AllocationHead() uint32 { return 12 }
func (fakeWallet) FeeRate() int64         { return 7 }

type fakeOrders struct {
	tracked map[string]*pipeline.Tracked
}

func (f *fakeOrders) Order(id string) (*pipeline.Tracked, bool) {
	t, ok := f.tracked[id]
	return t, ok
}

func (f *fakeOrders) OrderCount() int { return len(f.tracked) }

func newTestRouter() http.Handler {
	orders := &fakeOrders{tracked: map[string]*pipeline.Tracked{
		"cafe": {
			Id:        "cafe",
			Status:    pipeline.StatusFilled,
			Path:      "bitcoin",
			BtcTxId:   "feedface",
			UpdatedAt: time.Now(),
		},
	}}
	reporter := NewHttpReporter("127.0.0.1", "0", fakeWallet{}, orders)
	return reporter.SetupRouter()
}

func TestHealthRoute(t *testing.T) {
	w := httptest.NewRecorder()
	newTestRouter().ServeHTTP(w, httptest.NewRequest(http.MethodGet, ROUTE_HEALTH, nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestWalletRoute(t *testing.T) {
	w := httptest.NewRecorder()
	newTestRouter().ServeHTTP(w, httptest.NewRequest(http.MethodGet, ROUTE_WALLET, nil))

	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.EqualValues(t, 150_000, body["balanceSats"])
	assert.EqualValues(t, 3, body["coinCount"])
	assert.EqualValues(t, 12, body["allocationHead"])
	assert.EqualValues(t, 7, body["feeRate"])
	assert.InDelta(t, 0.0015, body["balanceBtc"], 1e-12)
}

func TestOrderRoute(t *testing.T) {
	router := newTestRouter()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/orders/cafe", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "filled", body["status"])
	assert.Equal(t, "feedface", body["btcTxId"])

	// 0x prefix tolerated
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/orders/0xcafe", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/orders/unknown", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
