package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseCardType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in    string
		want  CardType
		known bool
	}{
		{"HBA", CardTypeHBA, true},
		{"hba", CardTypeHBA, true},
		{"SMC-B", CardTypeSMCB, true},
		{"SMCB", CardTypeSMCB, true},
		{"smcb", CardTypeSMCB, true},
		{"", CardTypeHBA, false},
		{"multi", CardTypeHBA, false},
		{"EGK", CardTypeHBA, false},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, known := ParseCardType(tc.in)
			require.Equal(t, tc.want, got)
			require.Equal(t, tc.known, known)
		})
	}
}

func TestPinType(t *testing.T) {
	t.Parallel()

	require.Equal(t, "PIN.CH", CardTypeHBA.PinType())
	require.Equal(t, "PIN.SMC", CardTypeSMCB.PinType())
}

func TestPinStatusUsable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status PinStatus
		card   CardType
		want   bool
	}{
		{PinStatusVerified, CardTypeHBA, true},
		{PinStatusVerified, CardTypeSMCB, true},
		{PinStatusVerifiable, CardTypeSMCB, true},
		{PinStatusVerifiable, CardTypeHBA, false},
		{PinStatusTransportPin, CardTypeHBA, false},
		{PinStatusTransportPin, CardTypeSMCB, false},
		{PinStatusBlocked, CardTypeSMCB, false},
		{PinStatusRejected, CardTypeHBA, false},
		{PinStatusEmptyPin, CardTypeSMCB, false},
		{PinStatusDisabled, CardTypeHBA, false},
	}
	for _, tc := range tests {
		t.Run(string(tc.status)+"/"+string(tc.card), func(t *testing.T) {
			require.Equal(t, tc.want, tc.status.Usable(tc.card))
		})
	}
}
