/*
Package orderserver holds the websocket client that receives orders and
quote requests from the order server and hands them to the pipeline.
One connection, one reader goroutine; writes are serialized because the
underlying connection permits a single writer.
*/
package orderserver

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	logger "github.com/sirupsen/logrus"

	"github.com/Futaba-Labs/catalyst-example-solver/common"
	"github.com/Futaba-Labs/catalyst-example-solver/order"
	"github.com/Futaba-Labs/catalyst-example-solver/pipeline"
)

// Order-server event names.
const (
	EventPing     = "ping"
	EventPong     = "pong"
	EventTcpPong  = "tcp-pong"
	EventIdentify = "identify"

	EventQuoteRequest = "quote-request"
	EventVmOrder      = "vm-order"
	EventNonVmOrder   = "non-vm-order"
	EventLegacyOrder  = "order"

	EventSolverQuote          = "solver-quote"
	EventSolverOrderSigned    = "solver-order-signed"
	EventSolverOrderInitiated = "solver-order-initiated"
)

var ErrMaxReconnects = errors.New("max reconnection attempts reached")

const (
	defaultMaxReconnectAttempts = 5
	defaultReconnectDelay       = 5 * time.Second
	defaultPingInterval         = 30 * time.Second
	defaultQuoteValidity        = 30 * time.Second
	defaultHandshakeTimeout     = 10 * time.Second
	writeTimeout                = 10 * time.Second
)

// OrderHandler is the slice of the pipeline the transport drives.
type OrderHandler interface {
	ExecuteStandard(ctx context.Context, o *order.StandardOrder, sponsorSig, allocatorSig []byte) error
	ExecuteLegacy(ctx context.Context, o *order.CrossChainOrder, signature []byte) error
	SignOrder(ctx context.Context, o *order.StandardOrder) (*pipeline.SignedOrder, error)
}

type Config struct {
	URL             string
	SupportedChains []uint64

	// Quotes is the static price table: fromAsset -> toAsset -> rate.
	Quotes map[string]map[string]float64

	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	PingInterval         time.Duration
	QuoteValidity        time.Duration
}

func (cfg *Config) withDefaults() *Config {
	out := *cfg
	if out.MaxReconnectAttempts == 0 {
		out.MaxReconnectAttempts = defaultMaxReconnectAttempts
	}
	if out.ReconnectDelay == 0 {
		out.ReconnectDelay = defaultReconnectDelay
	}
	if out.PingInterval == 0 {
		out.PingInterval = defaultPingInterval
	}
	if out.QuoteValidity == 0 {
		out.QuoteValidity = defaultQuoteValidity
	}
	return &out
}

type Client struct {
	cfg     *Config
	handler OrderHandler

	writeMu sync.Mutex
	conn    *websocket.Conn
}

func NewClient(cfg *Config, handler OrderHandler) *Client {
	return &Client{cfg: cfg.withDefaults(), handler: handler}
}

// Run connects and serves the connection until the context ends,
// reconnecting with a fixed delay. Attempts reset after every
// established connection; exhaustion returns ErrMaxReconnects.
func (c *Client) Run(ctx context.Context) error {
	attempts := 0
	for {
		established, err := c.serveOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if established {
			attempts = 0
		}
		attempts++
		if attempts >= c.cfg.MaxReconnectAttempts {
			return ErrMaxReconnects
		}

		logger.Warnf("order server connection lost (attempt %d/%d): %v",
			attempts, c.cfg.MaxReconnectAttempts, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.ReconnectDelay):
		}
	}
}

func (c *Client) serveOnce(ctx context.Context) (bool, error) {
	dialer := websocket.Dialer{HandshakeTimeout: defaultHandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()

	logger.Infof("connected to order server at %s", c.cfg.URL)
	if err := c.send(EventIdentify, IdentifyDTO{
		ClientType:      "catalyst-solver",
		Version:         "1.0",
		SupportedChains: c.cfg.SupportedChains,
		Timestamp:       time.Now().UnixMilli(),
	}); err != nil {
		return true, err
	}

	// Close the connection when the context ends so ReadMessage
	// unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	// Keepalive with protocol-level pings; the peer's pings are
	// answered by the connection's default handler.
	go c.keepalive(ctx, conn, done)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}

		var envelope Envelope
		if err := json.Unmarshal(raw, &envelope); err != nil {
			logger.Warnf("malformed order server message: %v", err)
			continue
		}
		c.dispatch(ctx, &envelope)
	}
}

func (c *Client) keepalive(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(writeTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

func (c *Client) send(event string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return errors.New("not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(Envelope{Event: event, Data: payload})
}

func (c *Client) dispatch(ctx context.Context, envelope *Envelope) {
	switch envelope.Event {
	case EventPing:
		if err := c.send(EventPong, struct {
			Timestamp int64 `json:"timestamp"`
		}{time.Now().UnixMilli()}); err != nil {
			logger.Warnf("pong failed: %v", err)
		}
	case EventPong, EventTcpPong:
	case EventQuoteRequest:
		c.handleQuoteRequest(envelope.Data)
	case EventVmOrder:
		go c.handleVmOrder(ctx, envelope.Data)
	case EventNonVmOrder:
		go c.handleNonVmOrder(ctx, envelope.Data)
	case EventLegacyOrder:
		go c.handleLegacyOrder(ctx, envelope.Data)
	default:
		logger.Debugf("unhandled order server event %q", envelope.Event)
	}
}

// handleQuoteRequest answers from the configured price table. Unknown
// pairs are not quoted.
func (c *Client) handleQuoteRequest(raw json.RawMessage) {
	var request QuoteRequestDTO
	if err := json.Unmarshal(raw, &request); err != nil {
		logger.Warnf("malformed quote request: %v", err)
		return
	}

	rate, ok := c.cfg.Quotes[request.FromAsset][request.ToAsset]
	if !ok {
		logger.Infof("no quote for pair %s -> %s", request.FromAsset, request.ToAsset)
		return
	}

	amount := 1.0
	if request.Amount != "" {
		parsed, err := strconv.ParseFloat(request.Amount, 64)
		if err != nil {
			logger.Warnf("malformed quote amount %q: %v", request.Amount, err)
			return
		}
		amount = parsed
	}

	quote := QuoteDTO{
		QuoteRequestId: request.QuoteRequestId,
		FromAsset:      request.FromAsset,
		ToAsset:        request.ToAsset,
		Amount:         amount * rate,
		ExpirationTime: time.Now().Add(c.cfg.QuoteValidity).UnixMilli(),
	}
	if err := c.send(EventSolverQuote, quote); err != nil {
		logger.Warnf("quote send failed: %v", err)
	}
}

func (c *Client) handleVmOrder(ctx context.Context, raw json.RawMessage) {
	var dto VmOrderDTO
	if err := json.Unmarshal(raw, &dto); err != nil {
		logger.Warnf("malformed vm-order: %v", err)
		return
	}
	o, err := dto.Order.ToOrder()
	if err != nil {
		logger.Warnf("vm-order conversion failed: %v", err)
		return
	}

	sponsorSig := common.HexStrToByteSlice(dto.SponsorSignature)
	allocatorSig := common.HexStrToByteSlice(dto.AllocatorSignature)
	if err := c.handler.ExecuteStandard(ctx, o, sponsorSig, allocatorSig); err != nil {
		logger.Warnf("vm-order execution failed: %v", err)
	}
}

func (c *Client) handleNonVmOrder(ctx context.Context, raw json.RawMessage) {
	var dto struct {
		Order StandardOrderDTO `json:"order"`
	}
	if err := json.Unmarshal(raw, &dto); err != nil {
		logger.Warnf("malformed non-vm-order: %v", err)
		return
	}
	o, err := dto.Order.ToOrder()
	if err != nil {
		logger.Warnf("non-vm-order conversion failed: %v", err)
		return
	}

	signed, err := c.handler.SignOrder(ctx, o)
	if err != nil {
		logger.Warnf("non-vm-order signing failed: %v", err)
		return
	}

	reply := SignedOrderDTO{
		Order:          FromOrder(signed.Order),
		OrderId:        common.Prepend0xPrefix(hex.EncodeToString(signed.OrderId[:])),
		Signature:      common.Prepend0xPrefix(hex.EncodeToString(signed.Signature)),
		DepositAddress: signed.DepositAddress,
	}
	if err := c.send(EventSolverOrderSigned, reply); err != nil {
		logger.Warnf("solver-order-signed send failed: %v", err)
	}
}

func (c *Client) handleLegacyOrder(ctx context.Context, raw json.RawMessage) {
	var dto LegacyOrderDTO
	if err := json.Unmarshal(raw, &dto); err != nil {
		logger.Warnf("malformed legacy order: %v", err)
		return
	}
	o, err := dto.Order.ToOrder()
	if err != nil {
		logger.Warnf("legacy order conversion failed: %v", err)
		return
	}

	if err := c.handler.ExecuteLegacy(ctx, o, common.HexStrToByteSlice(dto.Signature)); err != nil {
		logger.Warnf("legacy order execution failed: %v", err)
		return
	}

	ack := InitiatedDTO{OrderId: fmt.Sprintf("%s:%s", o.SettlementContract.Hex(), o.Nonce)}
	if err := c.send(EventSolverOrderInitiated, ack); err != nil {
		logger.Warnf("solver-order-initiated send failed: %v", err)
	}
}
