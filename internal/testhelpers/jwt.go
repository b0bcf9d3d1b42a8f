package testhelpers

import (
	"testing"
	"time"

	"github.com/chinmina/waste-bridge/internal/fakevendor"
	"github.com/stretchr/testify/require"
)

// VendorToken mints a signed vendor token expiring at exp. A zero exp omits
// the claim.
func VendorToken(t *testing.T, exp time.Time) string {
	t.Helper()

	token, err := fakevendor.MintToken(TokenKey, exp)
	require.NoError(t, err, "failed to mint vendor token")

	return token
}
