package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindForDescription(t *testing.T) {
	cases := []struct {
		label string
		want  OrderKind
	}{
		{"Entry", OrderKindEntry},
		{"entry", OrderKindEntry},
		{"  DCA ", OrderKindEntry},
		{"tp1", OrderKindTakeProfit},
		{"TP5", OrderKindTakeProfit},
		{"tp+movesl", OrderKindTakeProfit},
		{"MOONBAG", OrderKindTakeProfit},
		{"stoploss", OrderKindStoploss},
	}

	for _, tc := range cases {
		t.Run(tc.label, func(t *testing.T) {
			got, err := KindForDescription(tc.label)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestKindForDescriptionRejectsUnknownLabels(t *testing.T) {
	for _, label := range []string{"", "Take profit", "TP6", "stop loss", "Entryy"} {
		_, err := KindForDescription(label)
		assert.True(t, errors.Is(err, ErrUnknownDescription), "label %q", label)
	}
}

func TestCanonicalDescription(t *testing.T) {
	got, err := CanonicalDescription("tp+MOVESL")
	require.NoError(t, err)
	assert.Equal(t, DescriptionTPMoveSL, got)
}

func TestCanTransitionOrder(t *testing.T) {
	assert.True(t, CanTransitionOrder(OrderStatusPending, OrderStatusOpen))
	assert.True(t, CanTransitionOrder(OrderStatusPending, OrderStatusCancelled))
	assert.True(t, CanTransitionOrder(OrderStatusOpen, OrderStatusClosed))

	assert.False(t, CanTransitionOrder(OrderStatusClosed, OrderStatusOpen))
	assert.False(t, CanTransitionOrder(OrderStatusCancelled, OrderStatusOpen))
	assert.False(t, CanTransitionOrder(OrderStatusClosed, OrderStatusClosed))
	assert.False(t, CanTransitionOrder(OrderStatusOpen, OrderStatusPending))
}

func TestTupleKeyNormalizesCase(t *testing.T) {
	assert.Equal(t, TupleKey(7, "btcusdt", "BUY"), TupleKey(7, "BTCUSDT", "buy"))
	assert.NotEqual(t, TupleKey(7, "BTCUSDT", "buy"), TupleKey(7, "BTCUSDT", "sell"))
}
