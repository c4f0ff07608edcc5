package memory

import (
	"testing"

	"healthcore/testutil"
)

func TestImportsAreDomainOrStdlib(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.OnlyModuleImports("healthcore/pkg/domain"),
		"memory store depends on the domain only")
}
