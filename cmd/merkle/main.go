package main

import (
	"fmt"
	"log"
	"os"

	"github.com/AnonJon/oz-merkle-go/pkg/config"
	"github.com/AnonJon/oz-merkle-go/pkg/hashers"
	"github.com/AnonJon/oz-merkle-go/pkg/leaf"
	"github.com/AnonJon/oz-merkle-go/pkg/merkle"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func newApp() *cli.App {
	leavesFlag := &cli.StringFlag{
		Name:     "leaves",
		Aliases:  []string{"l"},
		Usage:    "Allocations file (.csv with address,amount rows or .json array of {account, amount})",
		Required: true,
	}
	formatFlag := &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Proof encoding: json or cbor",
		Value:   "json",
	}
	outFlag := &cli.StringFlag{
		Name:    "out",
		Aliases: []string{"o"},
		Usage:   "Write output to this file instead of stdout",
	}
	calldataFlag := &cli.BoolFlag{
		Name:  "calldata",
		Usage: "Print ABI-encoded verifier calldata (hex) instead of the proof document",
	}
	rootFlag := &cli.StringFlag{
		Name:     "root",
		Usage:    "Expected tree root (0x-prefixed hex)",
		Required: true,
	}

	return &cli.App{
		Name:  "merkle",
		Usage: "Build merkle trees over allocations and produce or check inclusion proofs",
		Description: `Builds binary merkle trees whose proofs verify against commutative on-chain verifiers.

Hash schemes:
- tagged: domain-separated leaves and nodes (default)
- openzeppelin: double-hashed leaves; single proofs verify with MerkleProof.sol,
  multiproofs only with this tool (not MerkleProof.multiProofVerify)
- legacy: single-hashed leaves, for roots published before tagging`,
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable verbose logging",
				EnvVars: []string{config.EnvMerkleVerbose},
			},
			&cli.StringFlag{
				Name:    "scheme",
				Usage:   fmt.Sprintf("Hash scheme: %s", config.GetSupportedSchemesString()),
				Value:   merkle.SchemeTagged.String(),
				EnvVars: []string{config.EnvMerkleScheme},
			},
			&cli.StringFlag{
				Name:    "hash",
				Usage:   fmt.Sprintf("Hash function: %v", hashers.Names()),
				Value:   hashers.Keccak256,
				EnvVars: []string{config.EnvMerkleHash},
			},
			&cli.StringFlag{
				Name:    "encoding",
				Usage:   fmt.Sprintf("Leaf encoding for allocations: %v", leaf.EncodingNames()),
				Value:   leaf.EncodingPacked,
				EnvVars: []string{config.EnvMerkleEncoding},
			},
			&cli.BoolFlag{
				Name:  "sorted",
				Usage: "Sort and deduplicate leaf digests before building",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "build",
				Usage:  "Build a tree and print its root",
				Flags:  []cli.Flag{leavesFlag, outFlag, formatFlag},
				Action: runBuild,
			},
			{
				Name:   "root",
				Usage:  "Compute the root in a single streaming pass without keeping the tree",
				Flags:  []cli.Flag{leavesFlag},
				Action: runRoot,
			},
			{
				Name:  "proof",
				Usage: "Generate an inclusion proof for one leaf",
				Flags: []cli.Flag{
					leavesFlag, outFlag, formatFlag, calldataFlag,
					&cli.IntFlag{Name: "index", Aliases: []string{"i"}, Usage: "Leaf position", Value: -1},
					&cli.StringFlag{Name: "account", Usage: "Look up the leaf by allocation account"},
					&cli.StringFlag{Name: "leaf", Usage: "Look up the leaf by its encoded bytes (hex)"},
				},
				Action: runProof,
			},
			{
				Name:  "multiproof",
				Usage: "Generate a multiproof for several leaves",
				Flags: []cli.Flag{
					leavesFlag, outFlag, formatFlag, calldataFlag,
					&cli.StringFlag{Name: "indices", Usage: "Comma separated leaf positions, e.g. 1,4,7", Required: true},
				},
				Action: runMultiProof,
			},
			{
				Name:  "verify",
				Usage: "Verify a proof document against a root",
				Flags: []cli.Flag{
					formatFlag, rootFlag,
					&cli.StringFlag{Name: "proof", Aliases: []string{"p"}, Usage: "Proof file", Required: true},
					&cli.StringFlag{Name: "leaf", Usage: "Encoded leaf bytes (hex) to check instead of the proof's leaf digest"},
				},
				Action: runVerify,
			},
			{
				Name:  "verify-multi",
				Usage: "Verify a multiproof document against a root",
				Flags: []cli.Flag{
					formatFlag, rootFlag,
					&cli.StringFlag{Name: "proof", Aliases: []string{"p"}, Usage: "Multiproof file", Required: true},
				},
				Action: runVerifyMulti,
			},
			{
				Name:   "serve",
				Usage:  "Run the proof HTTP server",
				Flags:  serveFlags(),
				Action: runServe,
			},
		},
	}
}

func serveFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Value:   config.DefaultPort,
			Usage:   "HTTP server port",
			EnvVars: []string{config.EnvMerklePort},
		},
		&cli.StringFlag{
			Name:    "persistence",
			Usage:   fmt.Sprintf("Tree store: %s", config.GetSupportedPersistenceTypesString()),
			Value:   config.PersistenceTypeMemory.String(),
			EnvVars: []string{config.EnvMerklePersistenceType},
		},
		&cli.StringFlag{
			Name:    "data-path",
			Usage:   "Badger data directory",
			Value:   config.DefaultDataPath,
			EnvVars: []string{config.EnvMerkleDataPath},
		},
		&cli.StringFlag{
			Name:    "redis-address",
			Usage:   "Redis server address (host:port)",
			EnvVars: []string{config.EnvMerkleRedisAddress},
		},
		&cli.StringFlag{
			Name:    "redis-password",
			Usage:   "Redis password",
			EnvVars: []string{config.EnvMerkleRedisPassword},
		},
		&cli.IntFlag{
			Name:    "redis-db",
			Usage:   "Redis database number",
			EnvVars: []string{config.EnvMerkleRedisDB},
		},
		&cli.StringFlag{
			Name:    "redis-key-prefix",
			Usage:   "Prefix for every Redis key",
			EnvVars: []string{config.EnvMerkleRedisKeyPrefix},
		},
		&cli.Float64Flag{
			Name:    "rate-limit",
			Usage:   "Requests per second allowed per client (0 disables)",
			Value:   config.DefaultRateLimit,
			EnvVars: []string{config.EnvMerkleRateLimit},
		},
		&cli.IntFlag{
			Name:    "rate-burst",
			Usage:   "Burst size for the per-client rate limit",
			Value:   config.DefaultRateBurst,
			EnvVars: []string{config.EnvMerkleRateBurst},
		},
		&cli.IntFlag{
			Name:    "cache-size",
			Usage:   "Rebuilt trees kept in memory",
			Value:   config.DefaultCacheSize,
			EnvVars: []string{config.EnvMerkleCacheSize},
		},
	}
}
