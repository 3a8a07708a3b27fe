package testing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/marmos91/rsemgr/pkg/protocol"
	"github.com/marmos91/rsemgr/pkg/rse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testScope = "user.jdoe"

// connected returns a fresh plugin after a successful handshake.
func (suite *ProtocolTestSuite) connected(t *testing.T) protocol.Protocol {
	t.Helper()
	p := suite.NewProtocol(t)
	require.NoError(t, p.Connect(testContext(), suite.Credentials), "Connect should succeed")
	t.Cleanup(func() { _ = p.Close() })
	return p
}

// mustPFN translates scope:name on p.
func mustPFN(t *testing.T, p protocol.Protocol, name string) string {
	t.Helper()
	pfn, err := p.Translate(rse.LFN(testScope, name))
	require.NoError(t, err)
	return pfn
}

// writeLocal creates a local file with data and returns its path.
func writeLocal(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

// mustUpload stores data under name and returns its PFN.
func mustUpload(t *testing.T, p protocol.Protocol, name string, data []byte) string {
	t.Helper()
	pfn := mustPFN(t, p, name)
	local := writeLocal(t, t.TempDir(), name, data)

	failures, err := p.Put(testContext(), []protocol.Transfer{{PFN: pfn, Local: local}})
	require.NoError(t, err)
	require.Empty(t, failures, "Put should succeed")
	return pfn
}

// assertExists checks the existence of pfn.
func assertExists(t *testing.T, p protocol.Protocol, pfn string, expected bool) {
	t.Helper()
	failures, err := p.Exists(testContext(), []string{pfn})
	require.NoError(t, err)
	if expected {
		assert.NoError(t, failures[pfn], "object should exist")
	} else {
		assert.ErrorIs(t, failures[pfn], rse.ErrSourceNotFound, "object should be absent")
	}
}

// assertContent downloads pfn and compares it with expected.
func assertContent(t *testing.T, p protocol.Protocol, pfn string, expected []byte) {
	t.Helper()
	local := filepath.Join(t.TempDir(), "download")
	failures, err := p.Get(testContext(), []protocol.Transfer{{PFN: pfn, Local: local}})
	require.NoError(t, err)
	require.Empty(t, failures, "Get should succeed")

	data, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.Equal(t, expected, data, "content mismatch")
}
