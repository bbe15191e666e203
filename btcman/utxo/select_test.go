package utxo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func coin(txid string, value int64, confirmed bool) *UTXO {
	return &UTXO{TxID: txid, Vout: 0, Value: value, Confirmed: confirmed}
}

func TestSelectSingleCoinCoversTarget(t *testing.T) {
	coins := []*UTXO{
		coin("a", 5_000, true),
		coin("b", 50_000, true),
		coin("c", 20_000, true),
	}

	selected, total, err := Select(coins, 15_000, nil)
	require.NoError(t, err)

	// The smallest coin above the shortfall wins, not the first.
	require.Len(t, selected, 1)
	assert.Equal(t, "c", selected[0].TxID)
	assert.Equal(t, int64(20_000), total)
}

func TestSelectAccumulates(t *testing.T) {
	coins := []*UTXO{
		coin("a", 4_000, true),
		coin("b", 3_000, true),
		coin("c", 2_000, true),
	}

	selected, total, err := Select(coins, 8_500, nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, total, int64(8_500))
	assert.Len(t, selected, 3)
}

func TestSelectSkipsSpentAndForeignUnconfirmed(t *testing.T) {
	spent := coin("spent", 100_000, true)
	spent.SpentAt = 1700000000

	coins := []*UTXO{
		spent,
		coin("mempool", 100_000, false),
		coin("ours", 9_000, false),
		coin("small", 2_000, true),
	}
	isOwn := func(txid string) bool { return txid == "ours" }

	selected, total, err := Select(coins, 10_000, isOwn)
	require.NoError(t, err)
	assert.Equal(t, int64(11_000), total)

	for _, s := range selected {
		assert.NotEqual(t, "spent", s.TxID)
		assert.NotEqual(t, "mempool", s.TxID)
	}
}

func TestSelectInsufficient(t *testing.T) {
	coins := []*UTXO{coin("a", 1_000, true), coin("b", 2_000, true)}

	_, _, err := Select(coins, 10_000, nil)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestSelectDeterministic(t *testing.T) {
	coins := []*UTXO{
		coin("a", 7_000, true),
		coin("b", 7_000, true),
		coin("c", 1_000, true),
	}

	first, _, err := Select(coins, 6_000, nil)
	require.NoError(t, err)
	second, _, err := Select(coins, 6_000, nil)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
