package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AnonJon/oz-merkle-go/pkg/calldata"
	"github.com/AnonJon/oz-merkle-go/pkg/codec"
	"github.com/AnonJon/oz-merkle-go/pkg/config"
	"github.com/AnonJon/oz-merkle-go/pkg/logger"
	"github.com/AnonJon/oz-merkle-go/pkg/merkle"
	"github.com/AnonJon/oz-merkle-go/pkg/persistence/persistencetest"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

const publishedRoot = "0x54f23346bacf6e33c89e27917b92354a0b89c670bc67918bd17debf369bbd3fa"

func writeAllocations(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "allocations.csv")
	content := strings.Join([]string{
		"address,amount",
		"0x00393d62f17b07e64f7cdcdf9bdc2fd925b20bba,1840233889215604334017",
		"0x008EF27b8d0B9f8c1FAdcb624ef5FebE4f11fa9f,73750290420694562195",
		"0x1111111111111111111111111111111111111111,1",
		"0x2222222222222222222222222222222222222222,2",
		"0x3333333333333333333333333333333333333333,3",
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func writePublished(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "published.json")
	content := `[
		{"account": "0x00393d62f17b07e64f7cdcdf9bdc2fd925b20bba", "amount": "1840233889215604334017"},
		{"account": "0x008EF27b8d0B9f8c1FAdcb624ef5FebE4f11fa9f", "amount": "73750290420694562195"}
	]`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = io.Discard
	err := app.Run(append([]string{"merkle"}, args...))
	return strings.TrimSpace(out.String()), err
}

func TestBuild_PublishedRoot(t *testing.T) {
	out, err := run(t, "--scheme", "legacy", "--sorted", "build", "--leaves", writePublished(t))
	require.NoError(t, err)

	var summary buildSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, publishedRoot, summary.Root.Hex())
	assert.Equal(t, 2, summary.LeafCount)
	assert.True(t, summary.Sorted)
	assert.Equal(t, "legacy", summary.Scheme)
}

func TestBuild_WritesDump(t *testing.T) {
	for _, format := range []string{"json", "cbor"} {
		t.Run(format, func(t *testing.T) {
			dumpPath := filepath.Join(t.TempDir(), "tree."+format)
			out, err := run(t, "--hash", "blake3", "build", "--leaves", writeAllocations(t), "--out", dumpPath, "--format", format)
			require.NoError(t, err)

			var summary buildSummary
			require.NoError(t, json.Unmarshal([]byte(out), &summary))
			assert.Equal(t, 5, summary.LeafCount)
			assert.Equal(t, "blake3", summary.Hash)

			data, err := os.ReadFile(dumpPath)
			require.NoError(t, err)

			var dump codec.TreeDump
			require.NoError(t, codec.Unmarshal(codec.Format(format), data, &dump))
			tree, err := dump.Tree()
			require.NoError(t, err)
			assert.Equal(t, summary.Root, tree.Root())
		})
	}
}

func TestRoot_MatchesBuild(t *testing.T) {
	leaves := writeAllocations(t)
	for _, scheme := range []string{"tagged", "openzeppelin", "legacy"} {
		t.Run(scheme, func(t *testing.T) {
			out, err := run(t, "--scheme", scheme, "build", "--leaves", leaves)
			require.NoError(t, err)
			var summary buildSummary
			require.NoError(t, json.Unmarshal([]byte(out), &summary))

			root, err := run(t, "--scheme", scheme, "root", "--leaves", leaves)
			require.NoError(t, err)
			assert.Equal(t, summary.Root.Hex(), root)
		})
	}

	_, err := run(t, "--sorted", "root", "--leaves", leaves)
	require.Error(t, err)
}

func TestProofAndVerify(t *testing.T) {
	leaves := writeAllocations(t)

	out, err := run(t, "build", "--leaves", leaves)
	require.NoError(t, err)
	var summary buildSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	root := summary.Root.Hex()

	for _, format := range []string{"json", "cbor"} {
		t.Run(format, func(t *testing.T) {
			proofPath := filepath.Join(t.TempDir(), "proof."+format)
			_, err := run(t, "proof", "--leaves", leaves, "--index", "4", "--format", format, "--out", proofPath)
			require.NoError(t, err)

			out, err := run(t, "verify", "--proof", proofPath, "--root", root, "--format", format)
			require.NoError(t, err)
			assert.Equal(t, "valid", out)

			out, err = run(t, "verify", "--proof", proofPath, "--root", merkle.ZeroDigest.Hex(), "--format", format)
			require.ErrorIs(t, err, errInvalidProof)
			assert.Equal(t, "invalid", out)

			// A different scheme recomputes a different root
			_, err = run(t, "--scheme", "legacy", "verify", "--proof", proofPath, "--root", root, "--format", format)
			require.ErrorIs(t, err, errInvalidProof)
		})
	}

	t.Run("cbor hex from stdout", func(t *testing.T) {
		printed, err := run(t, "proof", "--leaves", leaves, "--index", "1", "--format", "cbor")
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(printed, "0x"))

		proofPath := filepath.Join(t.TempDir(), "proof.hex")
		require.NoError(t, os.WriteFile(proofPath, []byte(printed+"\n"), 0o644))

		out, err := run(t, "verify", "--proof", proofPath, "--root", root, "--format", "cbor")
		require.NoError(t, err)
		assert.Equal(t, "valid", out)
	})
}

func TestVerify_RawLeaf(t *testing.T) {
	leaves := writeAllocations(t)

	out, err := run(t, "build", "--leaves", leaves)
	require.NoError(t, err)
	var summary buildSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	root := summary.Root.Hex()

	proofPath := filepath.Join(t.TempDir(), "proof.json")
	_, err = run(t, "proof", "--leaves", leaves, "--index", "4", "--out", proofPath)
	require.NoError(t, err)

	// Packed encoding of 0x3333...3333 with amount 3
	packed := "0x" + strings.Repeat("33", 20) + strings.Repeat("0", 62) + "03"
	other := "0x" + strings.Repeat("11", 20) + strings.Repeat("0", 62) + "01"

	tests := []struct {
		name    string
		leaf    string
		root    string
		wantErr error
		want    string
	}{
		{name: "matching leaf", leaf: packed, root: root, want: "valid"},
		{name: "different leaf", leaf: other, root: root, wantErr: errInvalidProof, want: "invalid"},
		{name: "wrong root", leaf: packed, root: merkle.ZeroDigest.Hex(), wantErr: errInvalidProof, want: "invalid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := run(t, "verify", "--proof", proofPath, "--root", tt.root, "--leaf", tt.leaf)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, out)
		})
	}

	_, err = run(t, "verify", "--proof", proofPath, "--root", root, "--leaf", "zz")
	require.Error(t, err)
}

func TestProof_Selectors(t *testing.T) {
	leaves := writeAllocations(t)

	byIndex, err := run(t, "proof", "--leaves", leaves, "--index", "2")
	require.NoError(t, err)

	byAccount, err := run(t, "proof", "--leaves", leaves, "--account", "0x1111111111111111111111111111111111111111")
	require.NoError(t, err)
	assert.JSONEq(t, byIndex, byAccount)

	_, err = run(t, "proof", "--leaves", leaves, "--account", "0x4444444444444444444444444444444444444444")
	require.ErrorIs(t, err, merkle.ErrLeafNotFound)

	_, err = run(t, "proof", "--leaves", leaves, "--account", "nope")
	require.Error(t, err)

	_, err = run(t, "proof", "--leaves", leaves)
	require.ErrorIs(t, err, errNoSelector)

	_, err = run(t, "proof", "--leaves", leaves, "--index", "5")
	require.ErrorIs(t, err, merkle.ErrIndexOutOfRange)

	_, err = run(t, "proof", "--leaves", leaves, "--leaf", "0x1234")
	require.ErrorIs(t, err, merkle.ErrLeafNotFound)
}

func TestProof_Calldata(t *testing.T) {
	leaves := writeAllocations(t)

	out, err := run(t, "build", "--leaves", leaves)
	require.NoError(t, err)
	var summary buildSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))

	printed, err := run(t, "proof", "--leaves", leaves, "--index", "0", "--calldata")
	require.NoError(t, err)
	data, err := hexutil.Decode(printed)
	require.NoError(t, err)

	siblings, root, leafDigest, err := calldata.DecodeProof(data)
	require.NoError(t, err)
	assert.Equal(t, summary.Root, root)
	assert.Equal(t, root, merkle.ProcessProof(nil, leafDigest, siblings))
}

func TestMultiProofAndVerify(t *testing.T) {
	leaves := writeAllocations(t)

	out, err := run(t, "--scheme", "openzeppelin", "build", "--leaves", leaves)
	require.NoError(t, err)
	var summary buildSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))

	proofPath := filepath.Join(t.TempDir(), "multi.json")
	_, err = run(t, "--scheme", "openzeppelin", "multiproof", "--leaves", leaves, "--indices", "4, 0,2", "--out", proofPath)
	require.NoError(t, err)

	out, err = run(t, "--scheme", "openzeppelin", "verify-multi", "--proof", proofPath, "--root", summary.Root.Hex())
	require.NoError(t, err)
	assert.Equal(t, "valid", out)

	_, err = run(t, "verify-multi", "--proof", proofPath, "--root", summary.Root.Hex())
	require.ErrorIs(t, err, errInvalidProof)

	printed, err := run(t, "--scheme", "openzeppelin", "multiproof", "--leaves", leaves, "--indices", "1,3", "--calldata")
	require.NoError(t, err)
	data, err := hexutil.Decode(printed)
	require.NoError(t, err)
	mp, root, err := calldata.DecodeMultiProof(data)
	require.NoError(t, err)
	assert.Equal(t, summary.Root, root)
	assert.Equal(t, []int{1, 3}, mp.Indices)

	_, err = run(t, "multiproof", "--leaves", leaves, "--indices", "1,1")
	require.ErrorIs(t, err, merkle.ErrDuplicateIndex)

	_, err = run(t, "multiproof", "--leaves", leaves, "--indices", "1,x")
	require.Error(t, err)
}

func TestInvalidGlobalFlags(t *testing.T) {
	leaves := writeAllocations(t)

	_, err := run(t, "--scheme", "sha1", "build", "--leaves", leaves)
	require.ErrorIs(t, err, merkle.ErrUnknownScheme)

	_, err = run(t, "--hash", "md5", "build", "--leaves", leaves)
	require.Error(t, err)

	_, err = run(t, "--encoding", "rlp", "build", "--leaves", leaves)
	require.Error(t, err)

	_, err = run(t, "build", "--leaves", filepath.Join(t.TempDir(), "missing.csv"))
	require.Error(t, err)
}

func TestParseIndices(t *testing.T) {
	tests := []struct {
		in      string
		want    []int
		wantErr bool
	}{
		{"1,4,7", []int{1, 4, 7}, false},
		{" 3 , 2 ", []int{3, 2}, false},
		{"5,", []int{5}, false},
		{"", []int{}, false},
		{"1,a", nil, true},
	}
	for _, tt := range tests {
		got, err := parseIndices(tt.in)
		if tt.wantErr {
			require.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestOpenPersistence(t *testing.T) {
	l := logger.Nop()

	tests := []struct {
		name string
		cfg  config.PersistenceConfig
	}{
		{"memory", config.PersistenceConfig{Type: config.PersistenceTypeMemory}},
		{"badger", config.PersistenceConfig{Type: config.PersistenceTypeBadger, DataPath: t.TempDir()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := openPersistence(&tt.cfg, l)
			require.NoError(t, err)
			defer func() { _ = store.Close() }()

			record := persistencetest.NewRecord(t, tt.name, 3)
			require.NoError(t, store.SaveTree(record))
			require.NoError(t, store.HealthCheck())
		})
	}

	_, err := openPersistence(&config.PersistenceConfig{Type: "postgres"}, l)
	require.Error(t, err)
}

func TestParseServerConfig(t *testing.T) {
	app := newApp()
	var captured *config.ServerConfig
	for _, cmd := range app.Commands {
		if cmd.Name == "serve" {
			cmd.Action = func(c *cli.Context) error {
				cfg, err := parseServerConfig(c)
				captured = cfg
				return err
			}
		}
	}
	app.Writer = io.Discard

	err := app.Run([]string{"merkle", "--scheme", "openzeppelin", "serve",
		"--port", "9090", "--persistence", "redis", "--redis-address", "localhost:6379", "--redis-db", "4", "--rate-limit", "0", "--cache-size", "16"})
	require.NoError(t, err)
	require.NotNil(t, captured)

	assert.Equal(t, 9090, captured.Port)
	assert.Equal(t, config.PersistenceTypeRedis, captured.Persistence.Type)
	assert.Equal(t, 4, captured.Persistence.RedisDB)
	assert.Equal(t, "openzeppelin", captured.Scheme)
	assert.Equal(t, float64(0), captured.RateLimit)
	assert.Equal(t, 16, captured.CacheSize)
	require.NoError(t, captured.Validate())
	assert.Equal(t, merkle.SchemeOpenZeppelin, captured.ParsedScheme)
}
