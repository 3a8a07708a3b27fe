package rsemgr

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/rsemgr/pkg/protocol"
	"github.com/marmos91/rsemgr/pkg/protocol/memory"
	"github.com/marmos91/rsemgr/pkg/protocol/posix"
	"github.com/marmos91/rsemgr/pkg/rse"
	rsememory "github.com/marmos91/rsemgr/pkg/rse/memory"
	"github.com/stretchr/testify/require"
)

const (
	testRSE   = "MOCK"
	testScope = "user.jdoe"

	// schemeNoRename is a posix plugin without the rename capability
	schemeNoRename = "norename"
)

type testEnv struct {
	mgr     *Manager
	store   *memory.Store
	prefix  string
	src     string
	dest    string
	metrics *recordingMetrics
}

func allDomains(prio int) map[rse.Domain]rse.Priorities {
	p := rse.Priorities{Read: prio, Write: prio, Delete: prio}
	return map[rse.Domain]rse.Priorities{rse.DomainLAN: p, rse.DomainWAN: p}
}

func posixSpec(prefix string, prio int) rse.ProtocolSpec {
	return rse.ProtocolSpec{Scheme: posix.Scheme, Hostname: "localhost", Prefix: prefix, Domains: allDomains(prio)}
}

func mockSpec(host string, prio int) rse.ProtocolSpec {
	return rse.ProtocolSpec{Scheme: memory.Scheme, Hostname: host, Prefix: "/rucio", Domains: allDomains(prio)}
}

type noRename struct {
	protocol.Protocol
}

func (n noRename) Capabilities() protocol.Capabilities {
	return n.Protocol.Capabilities().Without(protocol.CapRename)
}

// newEnv builds a manager with one RSE, testRSE, exposing specs. Without
// specs the RSE has a single posix protocol under a temp prefix.
func newEnv(t *testing.T, specs ...rse.ProtocolSpec) *testEnv {
	t.Helper()

	env := &testEnv{
		store:   memory.NewStore(),
		prefix:  filepath.Join(t.TempDir(), "rse"),
		src:     t.TempDir(),
		dest:    filepath.Join(t.TempDir(), "dest"),
		metrics: newRecordingMetrics(),
	}
	if len(specs) == 0 {
		specs = []rse.ProtocolSpec{posixSpec(env.prefix, 1)}
	}

	registry := protocol.NewRegistry()
	registry.Register(posix.Scheme, posix.New)
	registry.Register(memory.Scheme, env.store.Factory())
	registry.Register(schemeNoRename, func(spec rse.ProtocolSpec, opts protocol.Options) (protocol.Protocol, error) {
		p, err := posix.New(spec, opts)
		return noRename{p}, err
	})

	repo, err := rsememory.New(&rse.Info{Tag: testRSE, Protocols: specs})
	require.NoError(t, err)

	env.mgr, err = New(context.Background(), Config{
		Repository:  repo,
		Protocols:   registry,
		Parallelism: 4,
		ConnectPolicy: protocol.ConnectPolicy{
			MaxAttempts:     2,
			InitialInterval: time.Millisecond,
			MaxInterval:     time.Millisecond,
		},
		Metrics: env.metrics,
	})
	require.NoError(t, err)
	return env
}

// writeSource creates files named names in the source directory.
func (e *testEnv) writeSource(t *testing.T, names ...string) {
	t.Helper()
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(e.src, name), []byte("content of "+name), 0644))
	}
}

// upload stores names under testScope and requires success.
func (e *testEnv) upload(t *testing.T, names ...string) {
	t.Helper()
	e.writeSource(t, names...)
	res, err := e.mgr.Upload(context.Background(), testRSE, lfns(names...), e.src, "")
	require.NoError(t, err)
	require.True(t, res.OK)
}

func lfns(names ...string) []rse.File {
	files := make([]rse.File, len(names))
	for i, name := range names {
		files[i] = rse.LFN(testScope, name)
	}
	return files
}

func key(name string) string {
	return testScope + ":" + name
}

type recordingMetrics struct {
	mu        sync.Mutex
	fallbacks int
	connects  map[string]int
	succeeded int
	failed    int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{connects: make(map[string]int)}
}

func (r *recordingMetrics) ObserveOperation(_, _ string, _ time.Duration, succeeded, failed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.succeeded += succeeded
	r.failed += failed
}

func (r *recordingMetrics) RecordFallback(string, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks++
}

func (r *recordingMetrics) RecordConnectAttempt(scheme string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := "success"
	if err != nil {
		result = "failure"
	}
	r.connects[scheme+"/"+result]++
}
