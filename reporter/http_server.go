// This is a http type of reporter.
// It fetches data from the wallet engine and the order pipeline
// and publishes it on the http routes.

package reporter

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Futaba-Labs/catalyst-example-solver/common"
	"github.com/Futaba-Labs/catalyst-example-solver/pipeline"
)

const (
	ROUTE_HEALTH = "/health"
	ROUTE_WALLET = "/wallet"
	ROUTE_ORDER  = "/orders/:id"
)

// WalletReader is the wallet surface the reporter publishes.
type WalletReader interface {
	Balance() int64
	CoinCount() int
	AllocationHead() uint32
	FeeRate() int64
}

// OrderReader is the pipeline surface the reporter publishes.
type OrderReader interface {
	Order(id string) (*pipeline.Tracked, bool)
	OrderCount() int
}

type HttpReporter struct {
	serverIP   string // listen ip
	serverPort string // listen port

	// upstream data sources
	wallet WalletReader
	orders OrderReader
}

func NewHttpReporter(serverIP string, serverPort string, wallet WalletReader, orders OrderReader) *HttpReporter {
	return &HttpReporter{
		serverIP:   serverIP,
		serverPort: serverPort,
		wallet:     wallet,
		orders:     orders,
	}
}

// Hook up routes & handlers
func (h *HttpReporter) SetupRouter() *gin.Engine {
	router := gin.Default()

	// Define routes & handlers
	router.GET(ROUTE_HEALTH, Health)
	router.GET(ROUTE_WALLET, h.Wallet)
	router.GET(ROUTE_ORDER, h.Order)

	return router
}

// Hook up router & ip:port
func (h *HttpReporter) Run() {
	router := h.SetupRouter()
	address := h.serverIP + ":" + h.serverPort
	if err := router.Run(address); err != nil {
		panic(err)
	}
}

func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// Publish the wallet's funding state.
func (h *HttpReporter) Wallet(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"balanceSats":    h.wallet.Balance(),
		"balanceBtc":     common.SatoshiToBtc(h.wallet.Balance()),
		"coinCount":      h.wallet.CoinCount(),
		"allocationHead": h.wallet.AllocationHead(),
		"feeRate":        h.wallet.FeeRate(),
	})
}

// Publish the pipeline status of one order.
func (h *HttpReporter) Order(c *gin.Context) {
	id := strings.TrimPrefix(c.Param("id"), "0x")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "order id must be provided"})
		return
	}

	tracked, ok := h.orders.Order(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such order"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":        tracked.Id,
		"status":    tracked.Status,
		"path":      tracked.Path,
		"reason":    tracked.Reason,
		"btcTxId":   tracked.BtcTxId,
		"fillTxId":  tracked.FillTxId,
		"updatedAt": tracked.UpdatedAt,
	})
}
