package testing

import (
	"testing"

	"github.com/marmos91/rsemgr/pkg/rse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunDeleteTests checks delete semantics.
func (suite *ProtocolTestSuite) RunDeleteTests(t *testing.T) {
	t.Run("Mixed", suite.testDeleteMixed)
	t.Run("Twice", suite.testDeleteTwice)
}

func (suite *ProtocolTestSuite) testDeleteMixed(t *testing.T) {
	p := suite.connected(t)
	present := mustUpload(t, p, "del-present.raw", []byte("x"))
	absent := mustPFN(t, p, "del-absent.raw")

	failures, err := p.Delete(testContext(), []string{present, absent})
	require.NoError(t, err)
	assert.NotContains(t, failures, present)
	assert.ErrorIs(t, failures[absent], rse.ErrSourceNotFound)
	assertExists(t, p, present, false)
}

func (suite *ProtocolTestSuite) testDeleteTwice(t *testing.T) {
	p := suite.connected(t)
	pfn := mustUpload(t, p, "del-twice.raw", []byte("x"))

	failures, err := p.Delete(testContext(), []string{pfn})
	require.NoError(t, err)
	assert.Empty(t, failures)

	failures, err = p.Delete(testContext(), []string{pfn})
	require.NoError(t, err)
	assert.ErrorIs(t, failures[pfn], rse.ErrSourceNotFound)
}
