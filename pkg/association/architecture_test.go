package association_test

import (
	"testing"

	"commandcore/testutil"
)

func TestAssociationDoesNotReachBackends(t *testing.T) {
	testutil.AssertNoTransitiveDependency(t, ".", testutil.InfraImportForbidden, "resolvers use the Repository contract")
}
