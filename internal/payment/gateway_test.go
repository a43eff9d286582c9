package payment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderReference(t *testing.T) {
	assert.Equal(t, "ORDER-42", OrderReference(42))

	id, err := ParseOrderReference("ORDER-42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, ref := range []string{"42", "ORDER-", "ORDER-abc", "ORDER--3", "ORDER-0", "order-42"} {
		_, err := ParseOrderReference(ref)
		assert.ErrorIs(t, err, ErrInvalidReference, ref)
	}
}

func TestItemsTotal(t *testing.T) {
	req := TransactionRequest{Items: []Item{
		{ID: "1", Price: 50000, Quantity: 2},
		{ID: "DISCOUNT", Price: -10000, Quantity: 1},
	}}
	assert.Equal(t, int64(90000), req.ItemsTotal())
}
