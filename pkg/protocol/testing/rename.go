package testing

import (
	"testing"

	"github.com/marmos91/rsemgr/pkg/rse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunRenameTests checks rename semantics.
func (suite *ProtocolTestSuite) RunRenameTests(t *testing.T) {
	t.Run("OK", suite.testRenameOK)
	t.Run("SourceNotFound", suite.testRenameSourceNotFound)
	t.Run("DestinationOccupied", suite.testRenameOccupied)
}

func (suite *ProtocolTestSuite) testRenameOK(t *testing.T) {
	p := suite.connected(t)
	src := mustUpload(t, p, "ren-src.raw", []byte("payload"))
	dst := mustPFN(t, p, "ren-dst.raw")

	failures, err := p.Rename(testContext(), map[string]string{src: dst})
	require.NoError(t, err)
	assert.Empty(t, failures)

	assertExists(t, p, src, false)
	assertContent(t, p, dst, []byte("payload"))
}

func (suite *ProtocolTestSuite) testRenameSourceNotFound(t *testing.T) {
	p := suite.connected(t)
	src := mustPFN(t, p, "ren-none.raw")
	dst := mustPFN(t, p, "ren-none-new.raw")

	failures, err := p.Rename(testContext(), map[string]string{src: dst})
	require.NoError(t, err)
	assert.ErrorIs(t, failures[src], rse.ErrSourceNotFound)
	assertExists(t, p, dst, false)
}

func (suite *ProtocolTestSuite) testRenameOccupied(t *testing.T) {
	p := suite.connected(t)
	src := mustUpload(t, p, "ren-a.raw", []byte("a"))
	dst := mustUpload(t, p, "ren-b.raw", []byte("b"))

	failures, err := p.Rename(testContext(), map[string]string{src: dst})
	require.NoError(t, err)
	assert.ErrorIs(t, failures[src], rse.ErrFileReplicaAlreadyExists)

	assertContent(t, p, src, []byte("a"))
	assertContent(t, p, dst, []byte("b"))
}
