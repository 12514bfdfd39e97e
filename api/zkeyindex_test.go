package api_test

import (
	"testing"

	"github.com/zkmpc/maestro/api"
	"github.com/zkmpc/maestro/config/params"
	"github.com/zkmpc/maestro/testing/assert"
	"github.com/zkmpc/maestro/testing/require"
)

func TestFormatZkeyIndex(t *testing.T) {
	tests := []struct {
		k    int64
		want string
	}{
		{0, "00000"},
		{1, "00001"},
		{42, "00042"},
		{99999, "99999"},
		{100000, "100000"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, api.FormatZkeyIndex(tt.k))
	}
}

func TestFormatZkeyIndex_WidthFollowsFirstIndex(t *testing.T) {
	params.SetupTestConfigCleanup(t)
	cfg := params.CeremonyConfig().Copy()
	cfg.FirstZkeyIndex = "000"
	params.OverrideCeremonyConfig(cfg)

	assert.Equal(t, "007", api.FormatZkeyIndex(7))
	assert.Equal(t, "1234", api.FormatZkeyIndex(1234))
}

func TestParseZkeyIndex_RoundTrip(t *testing.T) {
	for _, k := range []int64{0, 1, 9, 10, 1234, 99999} {
		parsed, err := api.ParseZkeyIndex(api.FormatZkeyIndex(k))
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}
}

func TestParseZkeyIndex_Malformed(t *testing.T) {
	_, err := api.ParseZkeyIndex("")
	assert.ErrorContains(t, "empty zkey index", err)
	_, err = api.ParseZkeyIndex("final")
	assert.ErrorContains(t, "malformed zkey index", err)
}
