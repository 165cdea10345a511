package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/utils"
)

func TestRegistry(t *testing.T) {
	t.Run("one token per project", func(t *testing.T) {
		r := NewRegistry()
		tok, err := r.Acquire("p1")
		require.NoError(t, err)
		assert.Equal(t, StateDispatching, tok.State)

		_, err = r.Acquire("p1")
		assert.ErrorIs(t, err, utils.ErrCrawlInFlight)

		other, err := r.Acquire("p2")
		require.NoError(t, err)
		assert.NotEqual(t, tok.Owner, other.Owner)
		assert.Equal(t, 2, r.Len())
	})

	t.Run("advance updates shared state", func(t *testing.T) {
		r := NewRegistry()
		tok, err := r.Acquire("p1")
		require.NoError(t, err)
		require.NoError(t, r.Advance(tok, StatePersisting))

		cur, ok := r.InFlight("p1")
		require.True(t, ok)
		assert.Equal(t, StatePersisting, cur.State)
	})

	t.Run("stale token cannot advance or release", func(t *testing.T) {
		r := NewRegistry()
		old, err := r.Acquire("p1")
		require.NoError(t, err)
		r.Release(old)

		fresh, err := r.Acquire("p1")
		require.NoError(t, err)

		assert.ErrorIs(t, r.Advance(old, StateAnalyzing), utils.ErrInvalidTransition)
		r.Release(old)
		cur, ok := r.InFlight("p1")
		require.True(t, ok)
		assert.Equal(t, fresh.Owner, cur.Owner)
	})

	t.Run("release frees slot", func(t *testing.T) {
		r := NewRegistry()
		tok, err := r.Acquire("p1")
		require.NoError(t, err)
		r.Release(tok)
		_, ok := r.InFlight("p1")
		assert.False(t, ok)
		assert.Zero(t, r.Len())
	})
}
