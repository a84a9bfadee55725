package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/gorilla/mux"

	"warden/internal/audit"
	"warden/internal/ipalloc"
	"warden/internal/models"
	"warden/internal/registry"
	"warden/internal/wgconf"
)

type Handler struct {
	reg    *registry.Registry
	events *audit.Store
}

func NewHandler(reg *registry.Registry, events *audit.Store) *Handler {
	return &Handler{reg: reg, events: events}
}

func (h *Handler) ListPeers(w http.ResponseWriter, r *http.Request) {
	roster, err := h.reg.View(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, roster)
}

type addPeerRequest struct {
	Name       string `json:"name"`
	PublicKey  string `json:"public_key"`
	HostOctet  int    `json:"host_octet"`
	AllowedIPs string `json:"allowed_ips"`
	Overwrite  bool   `json:"overwrite"`
	Reassign   bool   `json:"reassign"`
}

func (h *Handler) AddPeer(w http.ResponseWriter, r *http.Request) {
	var in addPeerRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body", nil)
		return
	}

	res, err := h.reg.Add(r.Context(), registry.AddRequest{
		Name:       in.Name,
		PublicKey:  in.PublicKey,
		HostOctet:  in.HostOctet,
		AllowedIPs: in.AllowedIPs,
	}, registry.Flags{Overwrite: in.Overwrite, Reassign: in.Reassign})
	if err != nil {
		writeError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusCreated, res)
}

func (h *Handler) DeletePeer(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.reg.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// PeerConfig отдаёт take-away файл пира; для пиров с внешним ключом
// его не существует — приватный ключ этой стороне неизвестен.
func (h *Handler) PeerConfig(w http.ResponseWriter, r *http.Request) {
	peer, err := h.reg.FindPeer(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}

	b, err := os.ReadFile(h.reg.ClientConfigPath(*peer))
	if err != nil {
		if os.IsNotExist(err) {
			models.WriteProblem(w, http.StatusNotFound, "Not Found",
				"no client config for this peer (private key unknown)", nil)
			return
		}
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events, err := h.events.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, events)
}

// writeError переводит таксономию реестра в HTTP-статусы.
func writeError(w http.ResponseWriter, err error) {
	var vErr *registry.ValidationError
	var pErr *wgconf.ParseError

	switch {
	case errors.Is(err, registry.ErrNotFound):
		models.WriteProblem(w, http.StatusNotFound, "Not Found", err.Error(), nil)
	case errors.Is(err, registry.ErrNotInitialized),
		errors.Is(err, registry.ErrDuplicateKey),
		errors.Is(err, registry.ErrDuplicateName),
		errors.Is(err, registry.ErrDuplicateIP),
		errors.Is(err, registry.ErrDeclined),
		errors.Is(err, ipalloc.ErrPoolExhausted):
		models.WriteProblem(w, http.StatusConflict, "Conflict", err.Error(), nil)
	case errors.As(err, &vErr):
		models.WriteProblem(w, http.StatusUnprocessableEntity, "Validation Failed", vErr.Reason, nil)
	case errors.Is(err, registry.ErrInvalidName), errors.As(err, &pErr):
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", err.Error(), nil)
	default:
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", err.Error(), nil)
	}
}
