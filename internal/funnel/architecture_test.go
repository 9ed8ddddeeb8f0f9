package funnel

import (
	"testing"

	"funnelcore/testutil"
)

func TestFunnelHasNoIO(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.Any(testutil.StorageImport, testutil.AdapterImport),
		"the state machine decides transitions without touching storage or transport")
}
