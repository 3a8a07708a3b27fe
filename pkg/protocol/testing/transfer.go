package testing

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/marmos91/rsemgr/pkg/protocol"
	"github.com/marmos91/rsemgr/pkg/rse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunTranslateTests checks PFN construction.
func (suite *ProtocolTestSuite) RunTranslateTests(t *testing.T) {
	t.Run("Deterministic", suite.testTranslateDeterministic)
	t.Run("ExplicitPFN", suite.testTranslateExplicit)
}

// RunTransferTests checks get, put and exists.
func (suite *ProtocolTestSuite) RunTransferTests(t *testing.T) {
	t.Run("RoundTrip", suite.testRoundTrip)
	t.Run("PutExisting", suite.testPutExisting)
	t.Run("PutMissingLocal", suite.testPutMissingLocal)
	t.Run("GetMissing", suite.testGetMissing)
	t.Run("ExistsMixed", suite.testExistsMixed)
	t.Run("ForeignPFN", suite.testForeignPFN)
	t.Run("BatchIndependence", suite.testBatchIndependence)
}

func (suite *ProtocolTestSuite) testTranslateDeterministic(t *testing.T) {
	p := suite.NewProtocol(t)
	pfn := mustPFN(t, p, "1.raw")

	assert.Equal(t, pfn, mustPFN(t, p, "1.raw"))
	assert.True(t, strings.HasPrefix(pfn, p.Spec().Scheme+"://"), pfn)
	assert.True(t, strings.HasSuffix(pfn, "/1.raw"), pfn)
	assert.NotEqual(t, pfn, mustPFN(t, p, "2.raw"))
}

func (suite *ProtocolTestSuite) testTranslateExplicit(t *testing.T) {
	p := suite.NewProtocol(t)
	pfn := mustPFN(t, p, "x")

	got, err := p.Translate(rse.File{Scope: "other", Name: "y", PFN: pfn})
	require.NoError(t, err)
	assert.Equal(t, pfn, got)

	got, err = p.Translate(rse.PFN(pfn))
	require.NoError(t, err)
	assert.Equal(t, pfn, got)
}

func (suite *ProtocolTestSuite) testRoundTrip(t *testing.T) {
	p := suite.connected(t)
	data := []byte("Hello, grid!")

	pfn := mustUpload(t, p, "roundtrip.raw", data)
	assertExists(t, p, pfn, true)
	assertContent(t, p, pfn, data)

	failures, err := p.Delete(testContext(), []string{pfn})
	require.NoError(t, err)
	assert.Empty(t, failures)
	assertExists(t, p, pfn, false)
}

func (suite *ProtocolTestSuite) testPutExisting(t *testing.T) {
	p := suite.connected(t)
	pfn := mustUpload(t, p, "existing.raw", []byte("original"))

	local := writeLocal(t, t.TempDir(), "existing.raw", []byte("replacement"))
	failures, err := p.Put(testContext(), []protocol.Transfer{{PFN: pfn, Local: local}})
	require.NoError(t, err)
	assert.ErrorIs(t, failures[pfn], rse.ErrFileReplicaAlreadyExists)

	assertContent(t, p, pfn, []byte("original"))
}

func (suite *ProtocolTestSuite) testPutMissingLocal(t *testing.T) {
	p := suite.connected(t)
	pfn := mustPFN(t, p, "missing.raw")

	failures, err := p.Put(testContext(), []protocol.Transfer{{PFN: pfn, Local: filepath.Join(t.TempDir(), "missing.raw")}})
	require.NoError(t, err)
	assert.ErrorIs(t, failures[pfn], rse.ErrSourceNotFound)
	assertExists(t, p, pfn, false)
}

func (suite *ProtocolTestSuite) testGetMissing(t *testing.T) {
	p := suite.connected(t)
	pfn := mustPFN(t, p, "never-uploaded.raw")
	local := filepath.Join(t.TempDir(), "out")

	failures, err := p.Get(testContext(), []protocol.Transfer{{PFN: pfn, Local: local}})
	require.NoError(t, err)
	assert.ErrorIs(t, failures[pfn], rse.ErrSourceNotFound)

	_, statErr := os.Stat(local)
	assert.True(t, os.IsNotExist(statErr), "no partial local file may be left behind")
}

func (suite *ProtocolTestSuite) testExistsMixed(t *testing.T) {
	p := suite.connected(t)
	present := mustUpload(t, p, "present.raw", []byte("x"))
	absent := mustPFN(t, p, "absent.raw")

	failures, err := p.Exists(testContext(), []string{present, absent})
	require.NoError(t, err)
	assert.NotContains(t, failures, present)
	assert.ErrorIs(t, failures[absent], rse.ErrSourceNotFound)
}

func (suite *ProtocolTestSuite) testForeignPFN(t *testing.T) {
	p := suite.connected(t)
	foreign := "gsiftp://elsewhere.example.org/x/y"

	failures, err := p.Exists(testContext(), []string{foreign})
	require.NoError(t, err)
	assert.ErrorIs(t, failures[foreign], rse.ErrInvalidDescriptor)
}

func (suite *ProtocolTestSuite) testBatchIndependence(t *testing.T) {
	p := suite.connected(t)
	dir := t.TempDir()

	var transfers []protocol.Transfer
	for _, name := range []string{"1.raw", "2.raw", "3.raw"} {
		transfers = append(transfers, protocol.Transfer{PFN: mustPFN(t, p, name), Local: writeLocal(t, dir, name, []byte(name))})
	}
	missing := protocol.Transfer{PFN: mustPFN(t, p, "4.raw"), Local: filepath.Join(dir, "4.raw")}
	transfers = append(transfers, missing)

	failures, err := p.Put(testContext(), transfers)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[missing.PFN], rse.ErrSourceNotFound)

	for _, tr := range transfers[:3] {
		assertContent(t, p, tr.PFN, []byte(filepath.Base(tr.Local)))
	}
}
