/*
Package wallet implements the Bitcoin side of the solver: an HD wallet
that hands out reuse-safe deposit addresses, keeps a live view of its
unspent outputs, and builds, signs and broadcasts fill transactions.

Address safety is the central invariant. An address that received
funds within the validity window is never handed out again, and a
given address is never recommended twice for the same fill amount
while an earlier fill may still be pending. Allocation state survives
restarts through walletdb.
*/
package wallet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	logger "github.com/sirupsen/logrus"

	"github.com/Futaba-Labs/catalyst-example-solver/btcman/gateway"
	"github.com/Futaba-Labs/catalyst-example-solver/btcman/utxo"
	"github.com/Futaba-Labs/catalyst-example-solver/btcman/walletdb"
)

// ChangeIndex is the derivation index of the wallet's designated
// change address.
const ChangeIndex uint32 = 0

type Engine struct {
	cfg     *Config
	gateway gateway.Gateway
	db      *walletdb.WalletDB
	keys    *keyring

	// mu guards everything below.
	mu             sync.Mutex
	coins          map[string]*utxo.UTXO    // outpoint "txid:vout" -> coin
	reservations   map[string]map[int64]bool // address -> amount -> reserved
	ownTxs         map[string]bool           // txids broadcast by us
	goodToBeUsed   uint32
	discoveryIndex uint32
	feeRate        int64 // sat/vB

	// allocMu serializes allocation attempts so two concurrent fills
	// cannot race on the same candidate index.
	allocMu sync.Mutex

	scheduler *gocron.Scheduler
}

func NewEngine(cfg *Config, gw gateway.Gateway, db *walletdb.WalletDB) (*Engine, error) {
	cfg = cfg.withDefaults()

	keys, err := newKeyring(cfg.XPriv, cfg.ChainParams)
	if err != nil {
		return nil, err
	}

	goodToBeUsed, discovery, err := db.GetAllocation()
	if err != nil {
		return nil, err
	}

	return &Engine{
		cfg:            cfg,
		gateway:        gw,
		db:             db,
		keys:           keys,
		coins:          make(map[string]*utxo.UTXO),
		reservations:   make(map[string]map[int64]bool),
		ownTxs:         make(map[string]bool),
		goodToBeUsed:   goodToBeUsed,
		discoveryIndex: discovery,
		feeRate:        cfg.FallbackFeeRate,
	}, nil
}

// Start performs an initial coin discovery and fee refresh, then
// schedules both periodically. Jobs run single-flight so a slow
// gateway never stacks scans.
func (e *Engine) Start(ctx context.Context) error {
	// 1. synchronous warm-up so callers see coins and a fee rate
	if err := e.discoverCoins(ctx); err != nil {
		return err
	}
	e.refreshFeeRate(ctx)

	// 2. periodic jobs
	e.scheduler = gocron.NewScheduler(time.UTC)
	e.scheduler.Every(e.cfg.CoinDiscoveryEvery).SingletonMode().Do(func() {
		if err := e.discoverCoins(ctx); err != nil {
			logger.Errorf("coin discovery failed: err=%v", err)
		}
	})
	e.scheduler.Every(e.cfg.FeeRefreshEvery).SingletonMode().Do(func() {
		e.refreshFeeRate(ctx)
	})
	e.scheduler.StartAsync()

	addr, _ := e.keys.addressAt(ChangeIndex)
	logger.Infof("wallet started: change=%s head=%d coins=%d balance=%d",
		addr, e.goodToBeUsed, e.CoinCount(), e.Balance())
	return nil
}

func (e *Engine) Stop() {
	if e.scheduler != nil {
		e.scheduler.Stop()
	}
}

// ChangeAddress returns the wallet's designated change address.
func (e *Engine) ChangeAddress() (string, error) {
	return e.keys.addressAt(ChangeIndex)
}

// Balance sums the value of all coins not flagged spent.
func (e *Engine) Balance() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	var sum int64
	for _, c := range e.coins {
		if c.SpentAt == 0 {
			sum += c.Value
		}
	}
	return sum
}

func (e *Engine) CoinCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.coins)
}

// AllocationHead returns the next candidate derivation index.
func (e *Engine) AllocationHead() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.goodToBeUsed
}

// IsOwnTx reports whether the wallet broadcast the given txid itself.
// Own unconfirmed outputs are safe to spend; foreign ones are not.
func (e *Engine) IsOwnTx(txid string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ownTxs[txid]
}

// NextSafeAddress allocates a deposit address that is safe to hand out
// for the given fill amount: never paid into within the validity
// window, and not already reserved for the same amount.
func (e *Engine) NextSafeAddress(ctx context.Context, amount int64) (string, uint32, error) {
	e.allocMu.Lock()
	defer e.allocMu.Unlock()

	if err := e.recycleStaleIndex(); err != nil {
		return "", 0, err
	}

	for try := 0; try < e.cfg.MaxAllocationTries; try++ {
		e.mu.Lock()
		index := e.goodToBeUsed
		e.mu.Unlock()

		addr, err := e.keys.addressAt(index)
		if err != nil {
			return "", 0, err
		}

		// A reservation for this amount means an earlier fill to this
		// address may still be unconfirmed; the counterparty could not
		// tell the two payments apart.
		if e.isReserved(addr, amount) {
			if err := e.skipIndex(index); err != nil {
				return "", 0, err
			}
			continue
		}

		lastUsed, err := e.gateway.AddressLastUsedAt(ctx, addr)
		if err != nil {
			return "", 0, err
		}

		if !lastUsed.IsZero() && time.Since(lastUsed) < e.cfg.ValidityPeriod {
			logger.Debugf("address %s used at %s, advancing head past %d", addr, lastUsed, index)
			if err := e.advanceHead(index, lastUsed); err != nil {
				return "", 0, err
			}
			// One gateway probe per wait interval.
			select {
			case <-ctx.Done():
				return "", 0, ctx.Err()
			case <-time.After(e.cfg.GatewayWait):
			}
			continue
		}

		e.reserve(addr, amount)
		logger.Infof("allocated deposit address: index=%d address=%s amount=%d", index, addr, amount)
		return addr, index, nil
	}

	return "", 0, ErrAddressAllocationFailed
}

// recycleStaleIndex rewinds the allocation head to the lowest index
// whose last input is already outside the validity window, keeping the
// derivation range from growing forever.
func (e *Engine) recycleStaleIndex() error {
	cutoff := time.Now().Add(-e.cfg.ValidityPeriod)
	index, ok, err := e.db.LowestStaleIndex(cutoff)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !ok || index >= e.goodToBeUsed {
		return nil
	}

	addr, err := e.keys.addressAt(index)
	if err != nil {
		return err
	}
	delete(e.reservations, addr)
	if err := e.db.DeleteLastInput(index); err != nil {
		return err
	}

	logger.Infof("recycling derivation index %d (head was %d)", index, e.goodToBeUsed)
	e.goodToBeUsed = index
	return e.db.SetGoodToBeUsedIndex(index)
}

// advanceHead records when the rejected index was last paid into and
// moves the allocation head past it.
func (e *Engine) advanceHead(index uint32, lastUsed time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.db.RecordLastInput(index, lastUsed); err != nil {
		return err
	}
	return e.moveHeadPastLocked(index)
}

// skipIndex moves the allocation head past an index without recording
// an input time. A reserved index may never be paid into; a fabricated
// input time would keep it out of recycling for a full validity
// window.
func (e *Engine) skipIndex(index uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.moveHeadPastLocked(index)
}

func (e *Engine) moveHeadPastLocked(index uint32) error {
	next := index + 1
	if next > e.goodToBeUsed {
		e.goodToBeUsed = next
		if err := e.db.SetGoodToBeUsedIndex(next); err != nil {
			return err
		}
	}
	if next > e.discoveryIndex {
		e.discoveryIndex = next
		if err := e.db.SetDiscoveryIndex(next); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) isReserved(addr string, amount int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	amounts, ok := e.reservations[addr]
	return ok && amounts[amount]
}

func (e *Engine) reserve(addr string, amount int64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.reservations[addr] == nil {
		e.reservations[addr] = make(map[int64]bool)
	}
	e.reservations[addr][amount] = true
}

// discoverCoins scans the wallet's derivation range and reconciles the
// in-memory coin set with what the gateway reports.
func (e *Engine) discoverCoins(ctx context.Context) error {
	e.mu.Lock()
	head := e.goodToBeUsed
	if e.discoveryIndex > head {
		head = e.discoveryIndex
	}
	clearAfter := e.cfg.SpentFlagClearAfter
	e.mu.Unlock()

	now := time.Now().Unix()

	for index := uint32(0); index <= head; index++ {
		addr, err := e.keys.addressAt(index)
		if err != nil {
			return err
		}

		reported, err := e.gateway.GetAddressUtxo(ctx, addr)
		if err != nil {
			return err
		}

		e.mu.Lock()
		seen := make(map[string]bool, len(reported))
		for _, r := range reported {
			key := fmt.Sprintf("%s:%d", r.TxID, r.Vout)
			seen[key] = true

			if known, ok := e.coins[key]; ok {
				known.Confirmed = r.Confirmed
				// A spent flag older than the clearing window with the
				// coin still unspent on-chain means the spending tx
				// never made it.
				if known.SpentAt > 0 && now-known.SpentAt > int64(clearAfter.Seconds()) {
					logger.Warnf("clearing stale spent flag on %s", key)
					known.SpentAt = 0
				}
				continue
			}

			e.coins[key] = &utxo.UTXO{
				TxID:      r.TxID,
				Vout:      r.Vout,
				Value:     r.Value,
				Confirmed: r.Confirmed,
				SpentAt:   0,
				PathIndex: index,
			}
		}

		// Coins of this index the gateway no longer reports are gone.
		for key, c := range e.coins {
			if c.PathIndex == index && !seen[key] {
				delete(e.coins, key)
			}
		}
		e.mu.Unlock()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if head > e.discoveryIndex {
		e.discoveryIndex = head
		if err := e.db.SetDiscoveryIndex(head); err != nil {
			return err
		}
	}
	logger.Debugf("coin discovery done: scanned=%d coins=%d", head+1, len(e.coins))
	return nil
}

// refreshFeeRate updates the cached sat/vB rate. A gateway failure
// keeps the previous rate.
func (e *Engine) refreshFeeRate(ctx context.Context) {
	fees, err := e.gateway.GetFeeEstimate(ctx)
	if err != nil {
		logger.Warnf("fee refresh failed, keeping %d sat/vB: err=%v", e.FeeRate(), err)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.feeRate = fees.FastestFee
}

func (e *Engine) FeeRate() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.feeRate
}
