package build

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVersion(t *testing.T) {
	v := newVer(0, 2, 7)
	require.Equal(t, "0.2.7", v.String())
	require.Equal(t, uint8(2), v.Minor())

	require.True(t, v.Compatible(newVer(0, 2, 0)))
	require.False(t, v.Compatible(newVer(0, 3, 0)), "minor bumps break before 1.0")
	require.True(t, newVer(1, 2, 0).Compatible(newVer(1, 5, 1)))
	require.False(t, newVer(1, 0, 0).Compatible(newVer(2, 0, 0)))

	lv, err := VersionForAPI(APILedger)
	require.NoError(t, err)
	require.Equal(t, LedgerAPIVersion, lv)

	_, err = VersionForAPI(APIUnknown)
	require.Error(t, err)
}
