// Package api exposes the state machine and cluster status over HTTP,
// grounded on the teacher's pkg/api.NewHTTPHandler.
package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/xlpha/xraft/pkg/kv"
	"github.com/xlpha/xraft/pkg/raft"
)

// Node is the subset of *raft.NodeImpl the HTTP API needs.
type Node interface {
	AppendLog(payload []byte) (uint64, error)
	GetRoleState() raft.RoleSnapshot
	GetCountOfMajor() int
}

// Handler serves /kv/{key}, /status over HTTP.
type Handler struct {
	node  Node
	store *kv.Store
	mux   *http.ServeMux
}

// NewHandler wires node and store behind an http.Handler.
func NewHandler(node Node, store *kv.Store) *Handler {
	h := &Handler{node: node, store: store, mux: http.NewServeMux()}
	h.mux.HandleFunc("/kv/", h.handleKV)
	h.mux.HandleFunc("/status", h.handleStatus)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Every request gets an opaque id, echoed back so a client can
	// correlate a write with the AppendEntries round it eventually lands
	// in when cross-referencing node logs.
	w.Header().Set("X-Request-Id", uuid.New().String())
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleKV(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Path[len("/kv/"):]
	if key == "" {
		http.Error(w, "missing key", http.StatusBadRequest)
		return
	}
	switch r.Method {
	case http.MethodGet:
		v, ok := h.store.Get(key)
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(v)
	case http.MethodPut:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		payload := kv.Encode(kv.Command{Kind: kv.Set, Key: key, Value: body})
		if _, err := h.node.AppendLog(payload); err != nil {
			h.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	case http.MethodDelete:
		payload := kv.Encode(kv.Command{Kind: kv.Delete, Key: key})
		if _, err := h.node.AppendLog(payload); err != nil {
			h.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch err {
	case raft.ErrNotLeader:
		http.Error(w, err.Error(), http.StatusMisdirectedRequest)
	case raft.ErrNotReady:
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

type statusResponse struct {
	Role        string `json:"role"`
	Term        uint64 `json:"term"`
	CountMajor  int    `json:"count_major"`
}

func (h *Handler) handleStatus(w http.ResponseWriter, _ *http.Request) {
	rs := h.node.GetRoleState()
	resp := statusResponse{
		Role:       rs.Tag.String(),
		Term:       uint64(rs.Term),
		CountMajor: h.node.GetCountOfMajor(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
