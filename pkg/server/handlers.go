package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/AnonJon/oz-merkle-go/pkg/codec"
	"github.com/AnonJon/oz-merkle-go/pkg/hashers"
	"github.com/AnonJon/oz-merkle-go/pkg/leaf"
	"github.com/AnonJon/oz-merkle-go/pkg/merkle"
	"github.com/AnonJon/oz-merkle-go/pkg/persistence"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

var (
	errTreeNotFound = errors.New("tree not found")
	errInvalidRoot  = errors.New("invalid tree root")
)

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errTreeNotFound), errors.Is(err, merkle.ErrLeafNotFound):
		return http.StatusNotFound
	case errors.Is(err, errInvalidRoot),
		errors.Is(err, merkle.ErrIndexOutOfRange),
		errors.Is(err, merkle.ErrDuplicateIndex),
		errors.Is(err, merkle.ErrEmptyRequest),
		errors.Is(err, merkle.ErrEmptyInput),
		errors.Is(err, merkle.ErrMalformedProof),
		errors.Is(err, merkle.ErrUnknownScheme):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// fail logs server-side failures and writes the mapped status.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Sugar().Errorw("Request failed",
			"request_id", RequestID(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to parse request: %w", err)
	}
	return nil
}

// writeEncoded writes a proof in the format named by ?format (json by default).
func writeEncoded(w http.ResponseWriter, r *http.Request, v any) {
	format := codec.FormatJSON
	if name := r.URL.Query().Get("format"); name != "" {
		parsed, err := codec.ParseFormat(name)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		format = parsed
	}

	body, err := codec.Marshal(format, v)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode response")
		return
	}

	if format == codec.FormatCBOR {
		w.Header().Set("Content-Type", "application/cbor")
	} else {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// engineFor resolves a scheme and hash, falling back to the server defaults.
func (s *Server) engineFor(scheme, hash string) (*merkle.Engine, string, error) {
	sch := s.config.Scheme
	if scheme != "" {
		parsed, err := merkle.ParseScheme(scheme)
		if err != nil {
			return nil, "", err
		}
		sch = parsed
	}

	name := s.config.Hash
	if hash != "" {
		name = hash
	}
	h, err := hashers.Get(name)
	if err != nil {
		return nil, "", err
	}

	e, err := merkle.NewEngine(sch, h)
	if err != nil {
		return nil, "", err
	}
	return e, name, nil
}

func summarize(record *persistence.TreeRecord, leafCount int) TreeSummary {
	return TreeSummary{
		ID:        record.ID,
		Name:      record.Name,
		Root:      record.Root,
		LeafCount: leafCount,
		Scheme:    record.Scheme,
		Hash:      record.Hash,
		Sorted:    record.Sorted,
		CreatedAt: record.CreatedAt,
	}
}

// lookup resolves the {root} path value to a cached tree.
func (s *Server) lookup(r *http.Request) (*cachedTree, error) {
	root, err := merkle.DigestFromHex(r.PathValue("root"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidRoot, err)
	}
	entry, err := s.cache.get(root)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, fmt.Errorf("%w: %s", errTreeNotFound, root)
	}
	return entry, nil
}

func (s *Server) handleCreateTree(w http.ResponseWriter, r *http.Request) {
	var req CreateTreeRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	leaves, err := s.requestLeaves(&req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	e, hashName, err := s.engineFor(req.Scheme, req.Hash)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	opts := []merkle.Option{merkle.WithEngine(e)}
	if req.Sorted {
		opts = append(opts, merkle.WithSortedLeaves())
	}

	start := time.Now()
	tree, err := merkle.Build(leaves, opts...)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.metrics.buildDuration.Observe(time.Since(start).Seconds())

	record := persistence.NewTreeRecord(req.Name, tree, hashName, leaves)
	if err := s.store.SaveTree(record); err != nil {
		s.fail(w, r, fmt.Errorf("failed to save tree: %w", err))
		return
	}
	s.cache.put(record, tree)

	s.logger.Sugar().Infow("Created tree",
		"request_id", RequestID(r.Context()),
		"id", record.ID,
		"name", record.Name,
		"root", record.Root.Hex(),
		"leaves", tree.LeafCount(),
		"scheme", record.Scheme,
	)

	writeJSON(w, http.StatusCreated, summarize(record, tree.LeafCount()))
}

// requestLeaves returns the raw leaf bytes from either leaves or allocations.
func (s *Server) requestLeaves(req *CreateTreeRequest) ([][]byte, error) {
	hasAllocations := len(req.Allocations) > 0 && string(req.Allocations) != "null"
	switch {
	case len(req.Leaves) > 0 && hasAllocations:
		return nil, fmt.Errorf("set either leaves or allocations, not both")
	case len(req.Leaves) > 0:
		out := make([][]byte, len(req.Leaves))
		for i, l := range req.Leaves {
			out[i] = l
		}
		return out, nil
	case hasAllocations:
		allocations, err := leaf.ParseJSON(req.Allocations)
		if err != nil {
			return nil, err
		}
		encoding := s.config.Encoding
		if req.Encoding != "" {
			encoding = req.Encoding
		}
		enc, err := leaf.EncoderByName(encoding)
		if err != nil {
			return nil, err
		}
		return leaf.EncodeAll(allocations, enc)
	default:
		return nil, merkle.ErrEmptyInput
	}
}

func (s *Server) handleListTrees(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.ListTrees()
	if err != nil {
		s.fail(w, r, err)
		return
	}

	resp := ListTreesResponse{Trees: make([]TreeSummary, 0, len(records))}
	for _, record := range records {
		resp.Trees = append(resp.Trees, summarize(record, record.TreeLeafCount()))
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetTree(w http.ResponseWriter, r *http.Request) {
	entry, err := s.lookup(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summarize(entry.record, entry.tree.LeafCount()))
}

func (s *Server) handleDeleteTree(w http.ResponseWriter, r *http.Request) {
	root, err := merkle.DigestFromHex(r.PathValue("root"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.DeleteTree(root); err != nil {
		s.fail(w, r, err)
		return
	}
	s.cache.evict(root)

	s.logger.Sugar().Infow("Deleted tree", "request_id", RequestID(r.Context()), "root", root.Hex())
	w.WriteHeader(http.StatusNoContent)
}

// handleGetProof serves ?index=N or ?leaf=0x... (caller-encoded leaf bytes)
func (s *Server) handleGetProof(w http.ResponseWriter, r *http.Request) {
	entry, err := s.lookup(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	query := r.URL.Query()
	var proof *merkle.Proof
	switch {
	case query.Has("index"):
		index, convErr := strconv.Atoi(query.Get("index"))
		if convErr != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid index %q", query.Get("index")))
			return
		}
		proof, err = entry.tree.GetProof(index)
	case query.Has("leaf"):
		raw, decErr := hexutil.Decode(query.Get("leaf"))
		if decErr != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid leaf: %v", decErr))
			return
		}
		proof, err = entry.tree.GetProofForLeaf(raw)
	default:
		writeError(w, http.StatusBadRequest, "index or leaf is required")
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.metrics.proofs.WithLabelValues("single").Inc()
	writeEncoded(w, r, proof)
}

func (s *Server) handleGetMultiProof(w http.ResponseWriter, r *http.Request) {
	entry, err := s.lookup(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var req MultiProofRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	mp, err := entry.tree.GetMultiProof(req.Indices)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.metrics.proofs.WithLabelValues("multi").Inc()
	writeEncoded(w, r, mp)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	e, _, err := s.engineFor(req.Scheme, req.Hash)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	valid := merkle.VerifyProof(e, req.Leaf, req.Index, req.Proof, req.Root)
	s.metrics.verifications.WithLabelValues("single", strconv.FormatBool(valid)).Inc()
	writeJSON(w, http.StatusOK, VerifyResponse{Valid: valid})
}

func (s *Server) handleVerifyMulti(w http.ResponseWriter, r *http.Request) {
	var req VerifyMultiRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	e, _, err := s.engineFor(req.Scheme, req.Hash)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	leaves := make([][]byte, len(req.Leaves))
	for i, l := range req.Leaves {
		leaves[i] = l
	}

	valid := merkle.VerifyMultiProof(e, leaves, req.Indices, req.MultiProof, req.Root)
	s.metrics.verifications.WithLabelValues("multi", strconv.FormatBool(valid)).Inc()
	writeJSON(w, http.StatusOK, VerifyResponse{Valid: valid})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.HealthCheck(); err != nil {
		s.logger.Sugar().Warnw("Health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
