package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AnonJon/oz-merkle-go/pkg/merkle"
	"github.com/AnonJon/oz-merkle-go/pkg/persistence/memory"
	"github.com/AnonJon/oz-merkle-go/pkg/server"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastRetry = RetryConfig{
	MaxAttempts:     3,
	InitialBackoff:  time.Millisecond,
	MaxBackoff:      5 * time.Millisecond,
	BackoffMultiple: 2,
}

func newProofServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv, err := server.NewServer(server.Config{}, memory.NewMemoryPersistence(nil), nil)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.GetHandler())
	t.Cleanup(ts.Close)
	return ts
}

func testLeaves(n int) []hexutil.Bytes {
	out := make([]hexutil.Bytes, n)
	for i := range out {
		out[i] = hexutil.Bytes(fmt.Sprintf("client-leaf-%d", i))
	}
	return out
}

func TestClient_EndToEnd(t *testing.T) {
	ts := newProofServer(t)
	c := NewClient(ts.URL+"/", nil)
	ctx := context.Background()

	require.NoError(t, c.Health(ctx))

	leaves := testLeaves(6)
	summary, err := c.CreateTree(ctx, &server.CreateTreeRequest{Name: "client", Leaves: leaves})
	require.NoError(t, err)
	assert.Equal(t, 6, summary.LeafCount)

	got, err := c.GetTree(ctx, summary.Root)
	require.NoError(t, err)
	assert.Equal(t, summary.ID, got.ID)

	trees, err := c.ListTrees(ctx)
	require.NoError(t, err)
	require.Len(t, trees, 1)

	proof, err := c.GetProof(ctx, summary.Root, 5)
	require.NoError(t, err)
	assert.True(t, proof.Verify(nil, summary.Root))

	byLeaf, err := c.GetProofForLeaf(ctx, summary.Root, leaves[5])
	require.NoError(t, err)
	assert.Equal(t, proof, byLeaf)

	valid, err := c.Verify(ctx, &server.VerifyRequest{Leaf: leaves[5], Index: 5, Proof: proof.Siblings, Root: summary.Root})
	require.NoError(t, err)
	assert.True(t, valid)

	mp, err := c.GetMultiProof(ctx, summary.Root, []int{1, 4})
	require.NoError(t, err)
	valid, err = c.VerifyMulti(ctx, &server.VerifyMultiRequest{
		Leaves: []hexutil.Bytes{leaves[1], leaves[4]}, Indices: []int{1, 4}, MultiProof: mp, Root: summary.Root,
	})
	require.NoError(t, err)
	assert.True(t, valid)

	require.NoError(t, c.DeleteTree(ctx, summary.Root))
	_, err = c.GetTree(ctx, summary.Root)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestClient_ClientErrorsAreNotRetried(t *testing.T) {
	ts := newProofServer(t)
	c := NewClient(ts.URL, nil)
	c.SetRetryConfig(fastRetry)
	ctx := context.Background()

	summary, err := c.CreateTree(ctx, &server.CreateTreeRequest{Leaves: testLeaves(2)})
	require.NoError(t, err)

	_, err = c.GetProof(ctx, summary.Root, 9)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.StatusCode)
	assert.Contains(t, se.Message, merkle.ErrIndexOutOfRange.Error())
	assert.False(t, IsNotFound(err))
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	c := NewClient(ts.URL, nil)
	c.SetRetryConfig(fastRetry)

	require.NoError(t, c.Health(context.Background()))
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_GivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	c := NewClient(ts.URL, nil)
	c.SetRetryConfig(fastRetry)

	err := c.Health(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_ContextCancelled(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	c := NewClient(ts.URL, nil)
	c.SetRetryConfig(RetryConfig{MaxAttempts: 5, InitialBackoff: time.Hour, MaxBackoff: time.Hour, BackoffMultiple: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := c.Health(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSetRetryConfig_ClampsAttempts(t *testing.T) {
	c := NewClient("http://localhost", nil)
	c.SetRetryConfig(RetryConfig{})
	assert.Equal(t, 1, c.retryConfig.MaxAttempts)
}
