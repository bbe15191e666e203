package wallet

import (
	"errors"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
)

var (
	ErrAddressAllocationFailed = errors.New("address allocation failed: tries exhausted")
	ErrInvalidXPriv            = errors.New("invalid extended private key")
)

const (
	defaultValidityPeriod      = 4 * 24 * time.Hour // 3 days of order validity + 1 day buffer
	defaultGatewayWait         = 500 * time.Millisecond
	defaultMaxAllocationTries  = 30000
	defaultCoinDiscoveryEvery  = 5 * time.Minute
	defaultFeeRefreshEvery     = 2 * time.Minute
	defaultSpentFlagClearAfter = 10 * time.Minute
	defaultDustLimit           = 1000 // satoshi
	defaultFallbackFeeRate     = 60   // sat/vB until the first gateway estimate lands

	// Starting point for the fee dry run, roughly one P2WPKH input
	// plus two outputs.
	dryRunVsizeGuess = 144
)

type Config struct {
	// XPriv is the BIP32 root key; the engine derives its account node
	// at m/44'/0'/0' from it.
	XPriv string

	ChainParams *chaincfg.Params

	// ValidityPeriod is the window within which a previously used
	// address is considered unsafe to hand out again.
	ValidityPeriod time.Duration

	// GatewayWait throttles allocation probing to one gateway call per
	// interval.
	GatewayWait time.Duration

	// MaxAllocationTries bounds the allocation state machine.
	MaxAllocationTries int

	CoinDiscoveryEvery  time.Duration
	FeeRefreshEvery     time.Duration
	SpentFlagClearAfter time.Duration

	// DustLimit is the smallest change output worth creating, in
	// satoshi.
	DustLimit int64

	FallbackFeeRate int64
}

func (cfg *Config) withDefaults() *Config {
	out := *cfg
	if out.ChainParams == nil {
		out.ChainParams = &chaincfg.MainNetParams
	}
	if out.ValidityPeriod == 0 {
		out.ValidityPeriod = defaultValidityPeriod
	}
	if out.GatewayWait == 0 {
		out.GatewayWait = defaultGatewayWait
	}
	if out.MaxAllocationTries == 0 {
		out.MaxAllocationTries = defaultMaxAllocationTries
	}
	if out.CoinDiscoveryEvery == 0 {
		out.CoinDiscoveryEvery = defaultCoinDiscoveryEvery
	}
	if out.FeeRefreshEvery == 0 {
		out.FeeRefreshEvery = defaultFeeRefreshEvery
	}
	if out.SpentFlagClearAfter == 0 {
		out.SpentFlagClearAfter = defaultSpentFlagClearAfter
	}
	if out.DustLimit == 0 {
		out.DustLimit = defaultDustLimit
	}
	if out.FallbackFeeRate == 0 {
		out.FallbackFeeRate = defaultFallbackFeeRate
	}
	return &out
}
