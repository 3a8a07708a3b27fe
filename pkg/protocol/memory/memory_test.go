package memory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/marmos91/rsemgr/pkg/protocol"
	prototesting "github.com/marmos91/rsemgr/pkg/protocol/testing"
	"github.com/marmos91/rsemgr/pkg/rse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSpec(host string) rse.ProtocolSpec {
	return rse.ProtocolSpec{
		Scheme:   Scheme,
		Hostname: host,
		Prefix:   "/data",
		Domains: map[rse.Domain]rse.Priorities{
			rse.DomainWAN: {Read: 1, Write: 1, Delete: 1},
		},
	}
}

func newProtocol(t *testing.T, store *Store, spec rse.ProtocolSpec) protocol.Protocol {
	t.Helper()
	p, err := store.Factory()(spec, protocol.Options{Parallelism: 2})
	require.NoError(t, err)
	return p
}

func TestMemoryProtocol(t *testing.T) {
	suite := &prototesting.ProtocolTestSuite{
		NewProtocol: func(t *testing.T) protocol.Protocol {
			return newProtocol(t, NewStore(), newSpec("mock.example.org"))
		},
	}

	suite.Run(t)
}

func TestStore_SharedBetweenInstances(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	writer := newProtocol(t, store, newSpec("mock.example.org"))
	require.NoError(t, writer.Connect(ctx, rse.Credentials{}))

	pfn, err := writer.Translate(rse.LFN("data18", "AOD.0001"))
	require.NoError(t, err)

	local := filepath.Join(t.TempDir(), "AOD.0001")
	require.NoError(t, writeFile(local, "payload"))

	failures, err := writer.Put(ctx, []protocol.Transfer{{PFN: pfn, Local: local}})
	require.NoError(t, err)
	require.Empty(t, failures)

	reader := newProtocol(t, store, newSpec("mock.example.org"))
	failures, err = reader.Exists(ctx, []string{pfn})
	require.NoError(t, err)
	assert.Empty(t, failures)

	data, ok := store.Object(pfn)
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), data)
	assert.Equal(t, 1, store.Len())
}

func TestStore_HostsAreIsolated(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	a := newProtocol(t, store, newSpec("a.example.org"))
	b := newProtocol(t, store, newSpec("b.example.org"))

	pfnA, err := a.Translate(rse.LFN("data18", "x"))
	require.NoError(t, err)
	local := filepath.Join(t.TempDir(), "x")
	require.NoError(t, writeFile(local, "x"))
	failures, err := a.Put(ctx, []protocol.Transfer{{PFN: pfnA, Local: local}})
	require.NoError(t, err)
	require.Empty(t, failures)

	pfnB, err := b.Translate(rse.LFN("data18", "x"))
	require.NoError(t, err)
	failures, err = b.Exists(ctx, []string{pfnB})
	require.NoError(t, err)
	assert.ErrorIs(t, failures[pfnB], rse.ErrSourceNotFound)
}

func TestStore_SetDown(t *testing.T) {
	store := NewStore()
	p := newProtocol(t, store, newSpec("mock.example.org"))

	store.SetDown("mock.example.org", true)
	assert.ErrorIs(t, p.Connect(context.Background(), rse.Credentials{}), rse.ErrServiceUnavailable)

	store.SetDown("mock.example.org", false)
	assert.NoError(t, p.Connect(context.Background(), rse.Credentials{}))
}

func TestStore_Fail(t *testing.T) {
	store := NewStore()
	p := newProtocol(t, store, newSpec("mock.example.org"))

	pfn, err := p.Translate(rse.LFN("data18", "broken"))
	require.NoError(t, err)

	injected := errors.New("injected")
	store.Fail(pfn, injected)

	failures, err := p.Exists(context.Background(), []string{pfn})
	require.NoError(t, err)
	assert.ErrorIs(t, failures[pfn], injected)

	store.Fail(pfn, nil)
	failures, err = p.Exists(context.Background(), []string{pfn})
	require.NoError(t, err)
	assert.ErrorIs(t, failures[pfn], rse.ErrSourceNotFound)
}

func TestReadOnly(t *testing.T) {
	spec := newSpec("mock.example.org")
	spec.Attributes = map[string]string{rse.AttrReadOnly: "true"}
	p := newProtocol(t, NewStore(), spec)

	assert.False(t, p.Capabilities().Has(protocol.CapPut))
	_, err := p.Delete(context.Background(), []string{"mock://mock.example.org/data/x"})
	assert.ErrorIs(t, err, rse.ErrUnsupportedOperation)
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0644)
}
