package linkguard

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Seann-Moser/linkguard/access"
	"github.com/Seann-Moser/linkguard/billing"
	"github.com/Seann-Moser/linkguard/oauth/oclient"
	"github.com/Seann-Moser/linkguard/provider"
	"github.com/gorilla/mux"
)

// Handler serves the connection and report-data routes.
type Handler struct {
	gate      *Gate
	connector *oclient.Connector
	layer     *provider.Layer
	log       *slog.Logger
}

func NewHandler(gate *Gate, connector *oclient.Connector, layer *provider.Layer, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{gate: gate, connector: connector, layer: layer, log: log}
}

// RegisterRoutes mounts every route behind the gate.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.Handle("/connect/{provider}", h.gate.Protect(h.Connect)).Methods(http.MethodGet)
	r.Handle("/oauth/callback", h.gate.Protect(h.Callback)).Methods(http.MethodGet)
	r.Handle("/connections/{provider}", h.gate.Protect(h.Status)).Methods(http.MethodGet)
	r.Handle("/connections/{provider}/resources", h.gate.Protect(h.SelectResources)).Methods(http.MethodPut)
	r.Handle("/connections/{provider}/disconnect", h.gate.Protect(h.Disconnect)).Methods(http.MethodPost)
	r.Handle("/report-data/{provider}", h.gate.Protect(h.ReportData)).Methods(http.MethodGet)
	r.Handle("/clients", h.gate.Protect(h.gate.Sweeping(h.CreateClient))).Methods(http.MethodPost)
}

func providerFromPath(r *http.Request) (provider.ProviderKind, error) {
	return provider.ParseKind(mux.Vars(r)["provider"])
}

func (h *Handler) accountID(w http.ResponseWriter, r *http.Request, t Tenant) (provider.ProviderKind, string, bool) {
	kind, err := providerFromPath(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return "", "", false
	}
	return kind, oclient.LinkID(t.TenantID, string(kind)), true
}

func (h *Handler) Connect(w http.ResponseWriter, r *http.Request, t Tenant) {
	kind, err := providerFromPath(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	u, _, err := h.connector.AuthCodeURL(r.Context(), t.TenantID, string(kind))
	if errors.Is(err, oclient.ErrUnknownProvider) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.ErrorContext(r.Context(), "start connect failed", "tenant_id", t.TenantID, "provider", kind, "error", err)
		http.Error(w, "could not start connection", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, u, http.StatusFound)
}

func (h *Handler) Callback(w http.ResponseWriter, r *http.Request, t Tenant) {
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		http.Error(w, "connection declined: "+e, http.StatusBadRequest)
		return
	}
	link, err := h.connector.Complete(r.Context(), t.TenantID, q.Get("state"), q.Get("code"))
	switch {
	case errors.Is(err, oclient.ErrStateNotFound):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, oclient.ErrStateMismatch):
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	case errors.Is(err, oclient.ErrIncompleteTokens):
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	case err != nil:
		h.log.WarnContext(r.Context(), "connect callback failed", "tenant_id", t.TenantID, "error", err)
		http.Error(w, "connection failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, oclient.ConnectionStatus{
		AccountID:   link.AccountID,
		Connected:   true,
		ConnectedAt: link.ConnectedAt,
		ExpiresAt:   link.ExpiresAt,
	})
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request, t Tenant) {
	_, id, ok := h.accountID(w, r, t)
	if !ok {
		return
	}
	st, err := h.connector.Status(r.Context(), id)
	if err != nil {
		h.log.ErrorContext(r.Context(), "status lookup failed", "account_id", id, "error", err)
		http.Error(w, "status unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type selectResourcesRequest struct {
	Resources []string `json:"resources"`
}

func (h *Handler) SelectResources(w http.ResponseWriter, r *http.Request, t Tenant) {
	_, id, ok := h.accountID(w, r, t)
	if !ok {
		return
	}
	var req selectResourcesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	err := h.connector.SelectResources(r.Context(), id, req.Resources)
	switch {
	case errors.Is(err, oclient.ErrInvalidSelector):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, oclient.ErrLinkNotFound), oclient.IsNotConnected(err):
		writeJSON(w, http.StatusConflict, errorBody{Error: "not connected", Reconnect: true})
	case err != nil:
		h.log.ErrorContext(r.Context(), "select resources failed", "account_id", id, "error", err)
		http.Error(w, "could not save resources", http.StatusInternalServerError)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request, t Tenant) {
	_, id, ok := h.accountID(w, r, t)
	if !ok {
		return
	}
	err := h.connector.Disconnect(r.Context(), id)
	if err != nil && !errors.Is(err, oclient.ErrLinkNotFound) {
		h.log.ErrorContext(r.Context(), "disconnect failed", "account_id", id, "error", err)
		http.Error(w, "could not disconnect", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ReportData(w http.ResponseWriter, r *http.Request, t Tenant) {
	kind, id, ok := h.accountID(w, r, t)
	if !ok {
		return
	}
	q := r.URL.Query()
	dr, err := provider.ParseDateRange(q.Get("start"), q.Get("end"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	data, err := h.layer.Fetch(r.Context(), kind, id, dr, q.Get("resource"))
	if err != nil {
		status, body := fetchFailure(err)
		writeJSON(w, status, body)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

// fetchFailure maps a Fetch error onto a response.
func fetchFailure(err error) (int, errorBody) {
	if provider.IsNotConnected(err) {
		return http.StatusConflict, errorBody{Error: err.Error(), Kind: "not_connected", Reconnect: true}
	}
	switch {
	case errors.Is(err, provider.ErrSelectorRequired), errors.Is(err, provider.ErrInvalidDateRange):
		return http.StatusBadRequest, errorBody{Error: err.Error()}
	case errors.Is(err, provider.ErrUnknownProvider):
		return http.StatusNotFound, errorBody{Error: err.Error()}
	}
	pe := provider.ClassifyErr(err)
	body := errorBody{
		Error:       pe.Message,
		Kind:        string(pe.Kind),
		Retryable:   pe.Retryable,
		Reconnect:   pe.NeedsReauth,
		RetryAfterS: int(pe.RetryAfter.Seconds()),
	}
	switch {
	case pe.NeedsReauth:
		return http.StatusUnauthorized, body
	case pe.Retryable:
		return http.StatusServiceUnavailable, body
	default:
		return http.StatusBadGateway, body
	}
}

// CreateClient checks the resource-level gate after the lazy trial sweep.
// Persisting the client itself belongs to the client service.
func (h *Handler) CreateClient(w http.ResponseWriter, r *http.Request, t Tenant) {
	if err := access.CanCreateClient(t.Profile); err != nil {
		writeJSON(w, http.StatusForbidden, errorBody{Error: err.Error()})
		return
	}
	resp := struct {
		Allowed bool            `json:"allowed"`
		Sweep   *billing.Result `json:"sweep,omitempty"`
	}{Allowed: true, Sweep: t.Sweep}
	writeJSON(w, http.StatusOK, resp)
}
