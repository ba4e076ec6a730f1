package model

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validEntry() *WatchEntry {
	return &WatchEntry{
		Name:            "apes",
		ContractAddress: "0x00000000000000000000000000000000000000aa",
		MintPrice:       decimal.RequireFromString("0.01"),
		PaymentToken:    NativeToken,
	}
}

func TestWatchEntry_Validate(t *testing.T) {
	require.NoError(t, validEntry().Validate())

	e := validEntry()
	e.Name = " "
	assert.Error(t, e.Validate())

	e = validEntry()
	e.ContractAddress = "0x123"
	assert.Error(t, e.Validate())

	e = validEntry()
	e.MintPrice = decimal.NewFromInt(-1)
	assert.Error(t, e.Validate())

	e = validEntry()
	e.PaymentToken = "usdc"
	assert.Error(t, e.Validate())

	e = validEntry()
	e.PaymentToken = "0x00000000000000000000000000000000000000bb"
	assert.NoError(t, e.Validate())
}

func TestWatchEntry_Destinations(t *testing.T) {
	e := validEntry()

	assert.True(t, e.AddDestination("chan-1"))
	assert.True(t, e.AddDestination("chan-2"))
	assert.False(t, e.AddDestination("chan-1"), "duplicate is rejected")
	assert.False(t, e.AddDestination("  "))
	assert.Equal(t, []string{"chan-1", "chan-2"}, e.DestinationIDs)

	assert.True(t, e.RemoveDestination("chan-1"))
	assert.False(t, e.RemoveDestination("chan-1"))
	assert.Equal(t, []string{"chan-2"}, e.DestinationIDs)
}

func TestWatchEntry_NormalizeDestinations(t *testing.T) {
	e := validEntry()
	e.DestinationIDs = []string{" b", "a", "", "b", "c", "a"}
	e.NormalizeDestinations()
	assert.Equal(t, []string{"b", "a", "c"}, e.DestinationIDs)
}

func TestWatchEntry_CloneIsDeep(t *testing.T) {
	e := validEntry()
	e.DestinationIDs = []string{"a"}

	c := e.Clone()
	c.DestinationIDs[0] = "z"
	c.AddDestination("y")

	assert.Equal(t, []string{"a"}, e.DestinationIDs)
	assert.Nil(t, (*WatchEntry)(nil).Clone())
}
