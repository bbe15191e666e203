/*
Package walletdb persists the wallet's address-allocation state in
sqlite so that a restart never re-issues a derivation index that was
already handed out as a deposit address.

Two tables are kept:

 1. allocation, a single row holding goodToBeUsedIndex (next candidate
    for allocation) and discoveryIndex (upper bound of the derivation
    range scanned for coins).
 2. address_last_input, recording when a derivation index last received
    funds, so recycling decisions survive restarts.
*/
package walletdb

import (
	"database/sql"
	"time"

	"github.com/Futaba-Labs/catalyst-example-solver/database"
)

// FirstAllocatableIndex is the lowest derivation index ever handed out
// as a deposit address. Index 0 is reserved for change.
const FirstAllocatableIndex = 1

type WalletDB struct {
	stmtcache *database.StmtCache
}

func NewWalletDB(db *sql.DB) (*WalletDB, error) {
	if _, err := db.Exec(allocationTable + lastInputTable); err != nil {
		return nil, err
	}

	wdb := &WalletDB{stmtcache: database.NewStmtCache(db)}

	// Seed the singleton allocation row on first start.
	stmt, err := wdb.stmtcache.Prepare(queryInsertAllocation)
	if err != nil {
		return nil, err
	}
	if _, err := stmt.Exec(FirstAllocatableIndex, FirstAllocatableIndex); err != nil {
		return nil, err
	}

	return wdb, nil
}

func (db *WalletDB) Close() {
	db.stmtcache.Clear()
}

// GetAllocation returns the persisted goodToBeUsedIndex and
// discoveryIndex.
func (db *WalletDB) GetAllocation() (goodToBeUsed uint32, discovery uint32, err error) {
	stmt, err := db.stmtcache.Prepare(queryGetAllocation)
	if err != nil {
		return 0, 0, err
	}

	if err := stmt.QueryRow().Scan(&goodToBeUsed, &discovery); err != nil {
		return 0, 0, err
	}
	return goodToBeUsed, discovery, nil
}

func (db *WalletDB) SetGoodToBeUsedIndex(index uint32) error {
	stmt, err := db.stmtcache.Prepare(querySetGoodToBeUsedIndex)
	if err != nil {
		return err
	}

	_, err = stmt.Exec(index)
	return err
}

func (db *WalletDB) SetDiscoveryIndex(index uint32) error {
	stmt, err := db.stmtcache.Prepare(querySetDiscoveryIndex)
	if err != nil {
		return err
	}

	_, err = stmt.Exec(index)
	return err
}

// RecordLastInput stores the moment a derivation index last received
// funds, overwriting any earlier record.
func (db *WalletDB) RecordLastInput(index uint32, at time.Time) error {
	stmt, err := db.stmtcache.Prepare(queryUpsertLastInput)
	if err != nil {
		return err
	}

	_, err = stmt.Exec(index, at.Unix())
	return err
}

// GetLastInput returns when the derivation index last received funds.
// The second return is false if the index was never recorded.
func (db *WalletDB) GetLastInput(index uint32) (time.Time, bool, error) {
	stmt, err := db.stmtcache.Prepare(queryGetLastInput)
	if err != nil {
		return time.Time{}, false, err
	}

	var unix int64
	if err := stmt.QueryRow(index).Scan(&unix); err != nil {
		if err == sql.ErrNoRows {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	return time.Unix(unix, 0), true, nil
}

// LowestStaleIndex finds the lowest recorded index whose last input is
// older than before. Used to recycle addresses instead of growing the
// derivation range forever.
func (db *WalletDB) LowestStaleIndex(before time.Time) (uint32, bool, error) {
	stmt, err := db.stmtcache.Prepare(queryLowestStale)
	if err != nil {
		return 0, false, err
	}

	var index uint32
	if err := stmt.QueryRow(before.Unix()).Scan(&index); err != nil {
		if err == sql.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, err
	}
	return index, true, nil
}

// DeleteLastInput drops the record for a recycled index.
func (db *WalletDB) DeleteLastInput(index uint32) error {
	stmt, err := db.stmtcache.Prepare(queryDeleteLastInput)
	if err != nil {
		return err
	}

	_, err = stmt.Exec(index)
	return err
}
