package query

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyOptions(t *testing.T) {
	options := ApplyOptions()
	require.Equal(t, 100, options.Limit)
	require.Equal(t, OrderDesc, options.Order)
	require.Empty(t, options.Token)

	options = ApplyOptions(WithLimit(25), WithAscending(), WithToken("token-9"))
	require.Equal(t, 25, options.Limit)
	require.Equal(t, OrderAsc, options.Order)
	require.Equal(t, "token-9", options.Token)

	// Non-positive limits keep the default.
	options = ApplyOptions(WithLimit(0))
	require.Equal(t, 100, options.Limit)
	options = ApplyOptions(WithLimit(-5))
	require.Equal(t, 100, options.Limit)
}
