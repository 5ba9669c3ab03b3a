package ledger

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBalanceUnseenIsZero(t *testing.T) {
	l := New()
	require.Equal(t, int64(0), l.Balance("0xnobody"))
	require.False(t, l.Exists("0xnobody"))
}

func TestMintAndBurn(t *testing.T) {
	l := New()

	granted, err := l.MintIfNew("0xA", 10)
	require.NoError(t, err)
	require.True(t, granted)

	for k := 1; k <= 10; k++ {
		bal, err := l.Burn("0xA", 1)
		require.NoError(t, err)
		require.Equal(t, int64(10-k), bal)
	}

	_, err = l.Burn("0xA", 1)
	require.ErrorIs(t, err, ErrInsufficientFunds)
	require.Equal(t, int64(0), l.Balance("0xA"))

	bal, err := l.Mint("0xA", 100)
	require.NoError(t, err)
	require.Equal(t, int64(100), bal)
}

func TestMintIfNewOnlyOnce(t *testing.T) {
	l := New()
	granted, err := l.MintIfNew("0xA", 10)
	require.NoError(t, err)
	require.True(t, granted)

	_, err = l.Burn("0xA", 10)
	require.NoError(t, err)

	granted, err = l.MintIfNew("0xA", 10)
	require.NoError(t, err)
	require.False(t, granted, "drained account must not be re-granted")
	require.Equal(t, int64(0), l.Balance("0xA"))
}

func TestInvalidAmounts(t *testing.T) {
	l := New()
	_, err := l.Mint("0xA", 0)
	require.ErrorIs(t, err, ErrInvalidAmount)
	_, err = l.Burn("0xA", -1)
	require.ErrorIs(t, err, ErrInvalidAmount)
	_, err = l.MintIfNew("0xA", 0)
	require.ErrorIs(t, err, ErrInvalidAmount)
	require.False(t, l.Exists("0xA"))
}

func TestBurnFailureLeavesBalance(t *testing.T) {
	l := New()
	_, err := l.Mint("0xA", 3)
	require.NoError(t, err)

	bal, err := l.Burn("0xA", 5)
	require.ErrorIs(t, err, ErrInsufficientFunds)
	require.Equal(t, int64(3), bal)
	require.Equal(t, int64(3), l.Balance("0xA"))
}

func TestConcurrentBurnsNeverOverspend(t *testing.T) {
	l := New()
	_, err := l.Mint("0xA", 50)
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Burn("0xA", 1); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 50, successes)
	require.Equal(t, int64(0), l.Balance("0xA"))
}

func TestSnapshotSorted(t *testing.T) {
	l := New()
	_, _ = l.Mint("0xB", 2)
	_, _ = l.Mint("0xA", 1)
	require.Equal(t, []Account{{"0xA", 1}, {"0xB", 2}}, l.Snapshot())
}
