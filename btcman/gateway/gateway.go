/*
Package gateway abstracts the Bitcoin indexing service the wallet engine
depends on. The production implementation talks to a mempool.space
compatible (esplora) REST API; tests substitute a fake.

Every remote call is wrapped in a capped-retry policy so that transient
indexer hiccups do not abort an order fill.
*/
package gateway

import (
	"context"
	"time"
)

// AddressUtxo is one unspent output as reported by the indexing service.
type AddressUtxo struct {
	TxID      string
	Vout      uint32
	Value     int64
	Confirmed bool
	BlockTime int64 // unix seconds, 0 while unconfirmed
}

// FeeEstimate carries the indexer's recommended fee rates in sat/vB.
type FeeEstimate struct {
	FastestFee  int64
	HalfHourFee int64
	HourFee     int64
}

// Gateway is the interface the wallet engine requires from a Bitcoin
// indexing service.
type Gateway interface {
	// GetAddressUtxo lists the unspent outputs of an address.
	GetAddressUtxo(ctx context.Context, address string) ([]AddressUtxo, error)

	// AddressLastUsedAt reports when the address last received funds
	// (confirmed or in the mempool). The zero time means never used.
	AddressLastUsedAt(ctx context.Context, address string) (time.Time, error)

	// Broadcast submits a raw transaction (hex) and returns its txid.
	Broadcast(ctx context.Context, rawTxHex string) (string, error)

	// GetFeeEstimate fetches the current recommended fee rates.
	GetFeeEstimate(ctx context.Context) (*FeeEstimate, error)
}
