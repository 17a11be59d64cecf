package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gymchain/gymchain-ledger/internal/logging"
	"github.com/gymchain/gymchain-ledger/internal/protocol"
	"github.com/gymchain/gymchain-ledger/internal/service"
)

const WriteTokenHeader = "X-Gymchain-Write-Token"

type MembershipHandler struct {
	service      *service.MembershipService
	metrics      http.Handler
	maxBodyBytes int64
	defaultLastN int
	maxLastN     int
}

type HandlerOptions struct {
	// Metrics is mounted at /metrics when set.
	Metrics      http.Handler
	MaxBodyBytes int64
	DefaultLastN int
	// MaxLastN caps the last query parameter; zero means no cap.
	MaxLastN int
}

func NewMembershipHandler(svc *service.MembershipService, opts HandlerOptions) *MembershipHandler {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	if opts.DefaultLastN <= 0 {
		opts.DefaultLastN = 5
	}
	return &MembershipHandler{
		service:      svc,
		metrics:      opts.Metrics,
		maxBodyBytes: opts.MaxBodyBytes,
		defaultLastN: opts.DefaultLastN,
		maxLastN:     opts.MaxLastN,
	}
}

func (h *MembershipHandler) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.HandleFunc("POST /add_membership", h.handleAddMembership)
	mux.HandleFunc("GET /verify_membership", h.handleVerifyMembership)
	mux.HandleFunc("GET /chain_valid", h.handleChainValid)
	mux.HandleFunc("GET /blocks", h.handleBlocks)
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics)
	}
	return mux
}

func (h *MembershipHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := h.service.Health(r.Context())
	logging.AddField(r.Context(), "op", "health")
	writeJSON(w, http.StatusOK, resp)
}

func (h *MembershipHandler) handleAddMembership(w http.ResponseWriter, r *http.Request) {
	if h.service.RequiresWriteToken() && !h.service.VerifyWriteToken(r.Header.Get(WriteTokenHeader)) {
		writeJSON(w, http.StatusUnauthorized, protocol.ErrorResponse{Error: protocol.ErrorBody{Code: service.CodeUnauthorized, Message: "invalid write token", Retryable: false}})
		return
	}
	var req protocol.AddMembershipRequest
	if err := decodeJSONLimited(r, h.maxBodyBytes, &req); err != nil {
		writeError(w, r, service.BadRequest(err.Error(), err))
		return
	}
	resp, err := h.service.AddMembership(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "add_membership")
	logging.AddField(r.Context(), "member_id", req.MemberID)
	logging.AddField(r.Context(), "block_index", resp.Block.Index)
	writeJSON(w, http.StatusOK, resp)
}

func (h *MembershipHandler) handleVerifyMembership(w http.ResponseWriter, r *http.Request) {
	memberID := r.URL.Query().Get("member_id")
	resp, err := h.service.VerifyMembership(r.Context(), memberID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "verify_membership")
	logging.AddField(r.Context(), "member_id", memberID)
	logging.AddField(r.Context(), "resolution", resp.Outcome)
	writeJSON(w, http.StatusOK, resp)
}

func (h *MembershipHandler) handleChainValid(w http.ResponseWriter, r *http.Request) {
	resp := h.service.ChainValid(r.Context())
	logging.AddField(r.Context(), "op", "chain_valid")
	logging.AddField(r.Context(), "valid", resp.Valid)
	logging.AddField(r.Context(), "length", resp.Length)
	writeJSON(w, http.StatusOK, resp)
}

func (h *MembershipHandler) handleBlocks(w http.ResponseWriter, r *http.Request) {
	lastN := h.defaultLastN
	if raw := strings.TrimSpace(r.URL.Query().Get("last")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, r, service.BadRequest("last must be a positive integer", err))
			return
		}
		lastN = n
	}
	if h.maxLastN > 0 && lastN > h.maxLastN {
		lastN = h.maxLastN
	}
	blocks, err := h.service.Blocks(r.Context(), lastN)
	if err != nil {
		writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "blocks")
	logging.AddField(r.Context(), "count", len(blocks))
	writeJSON(w, http.StatusOK, blocks)
}
