package walletdb

import (
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/Futaba-Labs/catalyst-example-solver/common"
	ethcommon "github.com/ethereum/go-ethereum/common"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
)

func newWalletDB(t *testing.T) (*WalletDB, func()) {
	file := "./" + ethcommon.Hash(common.RandBytes32()).String() + ".db"
	db, err := sql.Open("sqlite3", file)
	assert.NoError(t, err)

	walletDB, err := NewWalletDB(db)
	assert.NoError(t, err)

	close := func() {
		walletDB.Close()
		db.Close()
		os.Remove(file)
	}

	return walletDB, close
}

func TestAllocationSeededOnFirstStart(t *testing.T) {
	walletDB, close := newWalletDB(t)
	defer close()

	goodToBeUsed, discovery, err := walletDB.GetAllocation()
	assert.NoError(t, err)
	assert.Equal(t, uint32(FirstAllocatableIndex), goodToBeUsed)
	assert.Equal(t, uint32(FirstAllocatableIndex), discovery)
}

func TestAllocationSurvivesReopen(t *testing.T) {
	file := "./" + ethcommon.Hash(common.RandBytes32()).String() + ".db"
	defer os.Remove(file)

	db, err := sql.Open("sqlite3", file)
	assert.NoError(t, err)
	walletDB, err := NewWalletDB(db)
	assert.NoError(t, err)

	assert.NoError(t, walletDB.SetGoodToBeUsedIndex(17))
	assert.NoError(t, walletDB.SetDiscoveryIndex(42))
	walletDB.Close()
	db.Close()

	db, err = sql.Open("sqlite3", file)
	assert.NoError(t, err)
	defer db.Close()
	walletDB, err = NewWalletDB(db)
	assert.NoError(t, err)
	defer walletDB.Close()

	goodToBeUsed, discovery, err := walletDB.GetAllocation()
	assert.NoError(t, err)
	assert.Equal(t, uint32(17), goodToBeUsed)
	assert.Equal(t, uint32(42), discovery)
}

func TestLastInput(t *testing.T) {
	walletDB, close := newWalletDB(t)
	defer close()

	_, ok, err := walletDB.GetLastInput(7)
	assert.NoError(t, err)
	assert.False(t, ok)

	first := time.Unix(1700000000, 0)
	assert.NoError(t, walletDB.RecordLastInput(7, first))

	at, ok, err := walletDB.GetLastInput(7)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, first, at)

	later := first.Add(48 * time.Hour)
	assert.NoError(t, walletDB.RecordLastInput(7, later))

	at, ok, err = walletDB.GetLastInput(7)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, later, at)
}

func TestLowestStaleIndex(t *testing.T) {
	walletDB, close := newWalletDB(t)
	defer close()

	cutoff := time.Unix(1700000000, 0)

	_, ok, err := walletDB.LowestStaleIndex(cutoff)
	assert.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, walletDB.RecordLastInput(9, cutoff.Add(-time.Hour)))
	assert.NoError(t, walletDB.RecordLastInput(3, cutoff.Add(-2*time.Hour)))
	assert.NoError(t, walletDB.RecordLastInput(2, cutoff.Add(time.Hour)))

	index, ok, err := walletDB.LowestStaleIndex(cutoff)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint32(3), index)

	assert.NoError(t, walletDB.DeleteLastInput(3))

	index, ok, err = walletDB.LowestStaleIndex(cutoff)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint32(9), index)
}
