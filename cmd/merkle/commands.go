package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/AnonJon/oz-merkle-go/pkg/calldata"
	"github.com/AnonJon/oz-merkle-go/pkg/codec"
	"github.com/AnonJon/oz-merkle-go/pkg/hashers"
	"github.com/AnonJon/oz-merkle-go/pkg/leaf"
	"github.com/AnonJon/oz-merkle-go/pkg/logger"
	"github.com/AnonJon/oz-merkle-go/pkg/merkle"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

var (
	errInvalidProof = errors.New("proof does not verify against root")
	errNoSelector   = errors.New("one of --index, --account or --leaf is required")
)

// buildSummary is printed by the build command.
type buildSummary struct {
	Root      merkle.Digest `json:"root"`
	LeafCount int           `json:"leafCount"`
	Depth     int           `json:"depth"`
	Scheme    string        `json:"scheme"`
	Hash      string        `json:"hash"`
	Sorted    bool          `json:"sorted"`
}

func newLogger(c *cli.Context) (*zap.Logger, error) {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: c.Bool("verbose")})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return l, nil
}

func engineFromFlags(c *cli.Context) (*merkle.Engine, error) {
	scheme, err := merkle.ParseScheme(c.String("scheme"))
	if err != nil {
		return nil, err
	}
	h, err := hashers.Get(c.String("hash"))
	if err != nil {
		return nil, err
	}
	return merkle.NewEngine(scheme, h)
}

// loadLeaves reads the allocations file and encodes every entry.
func loadLeaves(c *cli.Context) ([]leaf.Allocation, [][]byte, error) {
	allocations, err := leaf.LoadFile(c.String("leaves"))
	if err != nil {
		return nil, nil, err
	}
	enc, err := leaf.EncoderByName(c.String("encoding"))
	if err != nil {
		return nil, nil, err
	}
	encoded, err := leaf.EncodeAll(allocations, enc)
	if err != nil {
		return nil, nil, err
	}
	return allocations, encoded, nil
}

func buildFromFlags(c *cli.Context, l *zap.Logger) (*merkle.Tree, []leaf.Allocation, [][]byte, error) {
	e, err := engineFromFlags(c)
	if err != nil {
		return nil, nil, nil, err
	}
	allocations, encoded, err := loadLeaves(c)
	if err != nil {
		return nil, nil, nil, err
	}

	opts := []merkle.Option{merkle.WithEngine(e)}
	if c.Bool("sorted") {
		opts = append(opts, merkle.WithSortedLeaves())
	}

	start := time.Now()
	tree, err := merkle.Build(encoded, opts...)
	if err != nil {
		return nil, nil, nil, err
	}
	l.Sugar().Debugw("Built tree",
		"leaves", tree.LeafCount(),
		"depth", tree.Depth(),
		"elapsed", time.Since(start),
	)
	return tree, allocations, encoded, nil
}

func formatFromFlags(c *cli.Context) (codec.Format, error) {
	return codec.ParseFormat(c.String("format"))
}

// emit writes data to --out when set, otherwise to stdout. Binary CBOR is
// hex encoded on a terminal.
func emit(c *cli.Context, data []byte, format codec.Format) error {
	if out := c.String("out"); out != "" {
		if err := os.WriteFile(out, data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", out, err)
		}
		return nil
	}
	if format == codec.FormatCBOR {
		_, err := fmt.Fprintln(c.App.Writer, hexutil.Encode(data))
		return err
	}
	_, err := fmt.Fprintln(c.App.Writer, string(data))
	return err
}

func printJSON(c *cli.Context, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.App.Writer, string(data))
	return err
}

func runBuild(c *cli.Context) error {
	l, err := newLogger(c)
	if err != nil {
		return err
	}
	defer func() { _ = l.Sync() }()

	tree, _, _, err := buildFromFlags(c, l)
	if err != nil {
		return err
	}

	if out := c.String("out"); out != "" {
		format, err := formatFromFlags(c)
		if err != nil {
			return err
		}
		data, err := codec.Marshal(format, codec.Dump(tree, c.String("hash")))
		if err != nil {
			return err
		}
		if err := os.WriteFile(out, data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", out, err)
		}
		l.Sugar().Infow("Wrote tree dump", "path", out, "format", format)
	}

	return printJSON(c, buildSummary{
		Root:      tree.Root(),
		LeafCount: tree.LeafCount(),
		Depth:     tree.Depth(),
		Scheme:    tree.Engine().Scheme().String(),
		Hash:      c.String("hash"),
		Sorted:    tree.Sorted(),
	})
}

func runRoot(c *cli.Context) error {
	if c.Bool("sorted") {
		return fmt.Errorf("--sorted needs the full leaf set; use build instead")
	}
	e, err := engineFromFlags(c)
	if err != nil {
		return err
	}
	_, encoded, err := loadLeaves(c)
	if err != nil {
		return err
	}

	b := merkle.NewRootBuilder(e)
	for _, l := range encoded {
		if err := b.AddLeaf(l); err != nil {
			return err
		}
	}
	root, err := b.Root()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.App.Writer, root.Hex())
	return err
}

func runProof(c *cli.Context) error {
	l, err := newLogger(c)
	if err != nil {
		return err
	}
	defer func() { _ = l.Sync() }()

	tree, allocations, encoded, err := buildFromFlags(c, l)
	if err != nil {
		return err
	}

	var proof *merkle.Proof
	switch {
	case c.Int("index") >= 0:
		proof, err = tree.GetProof(c.Int("index"))
	case c.String("account") != "":
		proof, err = proofForAccount(tree, allocations, encoded, c.String("account"))
	case c.String("leaf") != "":
		raw, decErr := hexutil.Decode(c.String("leaf"))
		if decErr != nil {
			return fmt.Errorf("invalid --leaf: %w", decErr)
		}
		proof, err = tree.GetProofForLeaf(raw)
	default:
		return errNoSelector
	}
	if err != nil {
		return err
	}

	if c.Bool("calldata") {
		data, err := calldata.EncodeProof(proof.Siblings, tree.Root(), proof.Leaf)
		if err != nil {
			return err
		}
		return emit(c, []byte(hexutil.Encode(data)), codec.FormatJSON)
	}

	format, err := formatFromFlags(c)
	if err != nil {
		return err
	}
	data, err := codec.Marshal(format, proof)
	if err != nil {
		return err
	}
	return emit(c, data, format)
}

func proofForAccount(tree *merkle.Tree, allocations []leaf.Allocation, encoded [][]byte, account string) (*merkle.Proof, error) {
	if !common.IsHexAddress(account) {
		return nil, fmt.Errorf("invalid account address: %s", account)
	}
	want := common.HexToAddress(account)
	for i, a := range allocations {
		if a.Account == want {
			return tree.GetProofForLeaf(encoded[i])
		}
	}
	return nil, fmt.Errorf("%w: account %s", merkle.ErrLeafNotFound, want.Hex())
}

func parseIndices(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		i, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid index %q: %w", p, err)
		}
		out = append(out, i)
	}
	return out, nil
}

func runMultiProof(c *cli.Context) error {
	l, err := newLogger(c)
	if err != nil {
		return err
	}
	defer func() { _ = l.Sync() }()

	indices, err := parseIndices(c.String("indices"))
	if err != nil {
		return err
	}

	tree, _, _, err := buildFromFlags(c, l)
	if err != nil {
		return err
	}

	mp, err := tree.GetMultiProof(indices)
	if err != nil {
		return err
	}

	if c.Bool("calldata") {
		data, err := calldata.EncodeMultiProof(mp, tree.Root())
		if err != nil {
			return err
		}
		return emit(c, []byte(hexutil.Encode(data)), codec.FormatJSON)
	}

	format, err := formatFromFlags(c)
	if err != nil {
		return err
	}
	data, err := codec.Marshal(format, mp)
	if err != nil {
		return err
	}
	return emit(c, data, format)
}

func readDocument(c *cli.Context, v any) error {
	format, err := formatFromFlags(c)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(c.String("proof"))
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", c.String("proof"), err)
	}
	// Hex text is accepted for CBOR so printed proofs can be fed back in
	if format == codec.FormatCBOR {
		if text := strings.TrimSpace(string(data)); strings.HasPrefix(text, "0x") {
			if data, err = hexutil.Decode(text); err != nil {
				return fmt.Errorf("invalid hex proof: %w", err)
			}
		}
	}
	return codec.Unmarshal(format, data, v)
}

func reportValidity(c *cli.Context, valid bool) error {
	if !valid {
		_, _ = fmt.Fprintln(c.App.Writer, "invalid")
		return errInvalidProof
	}
	_, err := fmt.Fprintln(c.App.Writer, "valid")
	return err
}

func runVerify(c *cli.Context) error {
	e, err := engineFromFlags(c)
	if err != nil {
		return err
	}
	root, err := merkle.DigestFromHex(c.String("root"))
	if err != nil {
		return err
	}

	var proof merkle.Proof
	if err := readDocument(c, &proof); err != nil {
		return err
	}

	if !c.IsSet("leaf") {
		return reportValidity(c, proof.Verify(e, root))
	}

	// The raw leaf must hash to the proven digest and fold up to root
	raw, err := hexutil.Decode(c.String("leaf"))
	if err != nil {
		return fmt.Errorf("invalid --leaf: %w", err)
	}
	valid := e.LeafDigest(raw) == proof.Leaf &&
		merkle.VerifyProof(e, raw, proof.LeafIndex, proof.Siblings, root)
	return reportValidity(c, valid)
}

func runVerifyMulti(c *cli.Context) error {
	e, err := engineFromFlags(c)
	if err != nil {
		return err
	}
	root, err := merkle.DigestFromHex(c.String("root"))
	if err != nil {
		return err
	}

	var mp merkle.MultiProof
	if err := readDocument(c, &mp); err != nil {
		return err
	}
	return reportValidity(c, mp.Verify(e, root))
}

func runServe(c *cli.Context) error {
	l, err := newLogger(c)
	if err != nil {
		return err
	}
	defer func() { _ = l.Sync() }()

	cfg, err := parseServerConfig(c)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := openPersistence(&cfg.Persistence, l)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			l.Sugar().Warnw("Failed to close persistence", "error", err)
		}
	}()

	srv, err := newServer(cfg, store, l)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	l.Sugar().Infow("Merkle proof server running",
		"port", cfg.Port,
		"persistence", cfg.Persistence.DescribePersistence(),
		"scheme", cfg.ParsedScheme,
	)
	l.Sugar().Infow("Available endpoints",
		"trees", "POST|GET /trees, GET|DELETE /trees/{root}",
		"proofs", "GET /trees/{root}/proof, POST /trees/{root}/multiproof",
		"verify", "POST /verify, POST /verify/multi",
		"ops", "GET /healthz, GET /metrics",
	)

	<-ctx.Done()
	l.Sugar().Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}
