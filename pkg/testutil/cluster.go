package testutil

import (
	"net/http/httptest"
	"testing"

	"github.com/AnonJon/oz-merkle-go/pkg/logger"
	"github.com/AnonJon/oz-merkle-go/pkg/persistence"
	"github.com/AnonJon/oz-merkle-go/pkg/server"
	"github.com/AnonJon/oz-merkle-go/pkg/transport"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// TestCluster is a set of proof server replicas over one shared tree store,
// much like several instances behind a load balancer in front of one Redis.
type TestCluster struct {
	Store      persistence.ITreePersistence
	Servers    []*server.Server
	HTTP       []*httptest.Server
	ServerURLs []string
	Clients    []*transport.Client
	NumNodes   int
}

// NewTestCluster starts numNodes replicas over store. Replicas are stopped on
// test cleanup; closing the store is left to the caller.
func NewTestCluster(t *testing.T, numNodes int, store persistence.ITreePersistence, cfg server.Config) *TestCluster {
	t.Helper()

	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	require.NoError(t, err)

	cluster := &TestCluster{
		Store:    store,
		NumNodes: numNodes,
	}

	for i := 0; i < numNodes; i++ {
		nodeLogger := l.With(zap.Int("replica", i))

		srv, err := server.NewServer(cfg, store, nodeLogger)
		require.NoError(t, err)

		ts := httptest.NewServer(srv.GetHandler())
		cluster.Servers = append(cluster.Servers, srv)
		cluster.HTTP = append(cluster.HTTP, ts)
		cluster.ServerURLs = append(cluster.ServerURLs, ts.URL)
		cluster.Clients = append(cluster.Clients, transport.NewClient(ts.URL, nodeLogger))
	}

	t.Cleanup(cluster.Close)
	return cluster
}

// Close stops every replica. Safe to call more than once.
func (c *TestCluster) Close() {
	for _, ts := range c.HTTP {
		ts.Close()
	}
	c.HTTP = nil
}
