package common

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBigInt(t *testing.T) {
	var v BigInt

	textRef := []byte("11111111111111111111")
	err := v.UnmarshalText(textRef)
	require.NoError(t, err)
	textRoundTrip, err := v.MarshalText()
	require.NoError(t, err)
	require.Equal(t, textRef, textRoundTrip)

	jsonRef := []byte("\"22222222222222222222\"")
	err = json.Unmarshal(jsonRef, &v)
	require.NoError(t, err)
	jsonRoundTrip, err := json.Marshal(v)
	require.NoError(t, err)
	require.Equal(t, jsonRef, jsonRoundTrip)

	// Contract state may carry bare numbers.
	require.NoError(t, json.Unmarshal([]byte("250"), &v))
	require.Equal(t, "250", v.String())
}

func TestParseBigInt(t *testing.T) {
	v, err := ParseBigInt(" 1000 ")
	require.NoError(t, err)
	require.Equal(t, int64(1000), v.Int64())

	_, err = ParseBigInt("1.5")
	require.Error(t, err)
}

func TestStakeDeficit(t *testing.T) {
	s := StakeState{Locked: NewBigInt(40), Required: NewBigInt(100)}
	d := s.Deficit()
	require.Equal(t, int64(60), d.Int64())

	s = StakeState{Locked: NewBigInt(100), Required: NewBigInt(100)}
	d = s.Deficit()
	require.Equal(t, 0, d.Sign())

	s = StakeState{Locked: NewBigInt(150), Required: NewBigInt(100)}
	d = s.Deficit()
	require.Equal(t, 0, d.Sign())
}

func TestCommitTags(t *testing.T) {
	p := PoolConfig{ID: 7, Architecture: "evm"}
	require.Equal(t, []Tag{
		{Name: "Application", Value: "app"},
		{Name: "Pool", Value: "7"},
		{Name: "Architecture", Value: "evm"},
	}, p.CommitTags("app"))
}

func TestFormatAmount(t *testing.T) {
	for _, tc := range []struct {
		in   int64
		want string
	}{
		{0, "0"},
		{1_000_000_000_000, "1"},
		{1_500_000_000_000, "1.5"},
		{123, "0.000000000123"},
		{-2_000_000_000, "-0.002"},
	} {
		require.Equal(t, tc.want, FormatAmount(NewBigInt(tc.in), TokenDecimals), "amount %d", tc.in)
	}
}

func TestBatchLen(t *testing.T) {
	require.Equal(t, 0, Batch{}.Len())
	require.Equal(t, 2, Batch{Records: []Record{{Data: json.RawMessage(`1`)}, {Data: json.RawMessage(`2`)}}}.Len())
}
