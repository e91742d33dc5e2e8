package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/soyeahso/meshgate/internal/config"
	"github.com/soyeahso/meshgate/internal/domain"
	"github.com/soyeahso/meshgate/internal/routing"
	"github.com/soyeahso/meshgate/internal/store"
)

// sendTimeout bounds a manual send, including chunk pacing.
const sendTimeout = 4 * time.Minute

// registerHTTPRoutes sets up all HTTP routes on the server mux.
func (s *Server) registerHTTPRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /sessions", s.handleSessions)
	mux.HandleFunc("GET /pairing", s.handlePairingList)
	mux.HandleFunc("POST /pairing/approve", s.handlePairingApprove)
	mux.HandleFunc("POST /pairing/revoke", s.handlePairingRevoke)
	mux.HandleFunc("POST /send", s.handleSend)

	mux.HandleFunc("/", handleNotFound)
}

// handleHealth is public; it reveals nothing beyond liveness.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Version   string                 `json:"version"`
	UptimeSec int64                  `json:"uptimeSec"`
	Channels  []domain.ChannelStatus `json:"channels"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{
		Version:   s.version,
		UptimeSec: int64(time.Since(s.startedAt).Seconds()),
		Channels:  []domain.ChannelStatus{},
	}
	if s.channels != nil {
		resp.Channels = s.channels.Status()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "session store not configured")
		return
	}
	list, err := s.sessions.List(r.Context())
	if err != nil {
		reqLog(r).Error().Err(err).Msg("listing sessions failed")
		writeError(w, http.StatusInternalServerError, "listing sessions failed")
		return
	}
	q := r.URL.Query()
	out := []domain.SessionMeta{}
	for _, m := range list {
		fillFromKey(&m)
		if !matchParam(q.Get("agent"), m.AgentID) ||
			!matchParam(q.Get("account"), m.AccountID) ||
			!matchParam(q.Get("chatType"), string(m.ChatType)) {
			continue
		}
		out = append(out, m)
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

// fillFromKey completes rows written without the routing fields, which the
// session key always encodes.
func fillFromKey(m *domain.SessionMeta) {
	parts, err := routing.ParseSessionKey(m.SessionKey)
	if err != nil {
		return
	}
	if m.AgentID == "" {
		m.AgentID = parts.AgentID
	}
	if m.Channel == "" {
		m.Channel = parts.Channel
	}
	if m.AccountID == "" {
		m.AccountID = parts.AccountID
	}
	if m.ChatType == "" {
		m.ChatType = parts.ChatType
	}
	if m.PeerID == "" {
		m.PeerID = parts.PeerID
	}
}

func matchParam(want, got string) bool {
	return want == "" || want == got
}

// PairingResponse is returned by GET /pairing.
type PairingResponse struct {
	Pending   []store.PairingRequest `json:"pending"`
	AllowFrom []string               `json:"allowFrom"`
}

func (s *Server) handlePairingList(w http.ResponseWriter, r *http.Request) {
	if s.pairing == nil {
		writeError(w, http.StatusServiceUnavailable, "pairing store not configured")
		return
	}
	pending, err := s.pairing.ListPending(r.Context(), domain.ChannelMeshtastic)
	if err != nil {
		reqLog(r).Error().Err(err).Msg("listing pairing requests failed")
		writeError(w, http.StatusInternalServerError, "listing pairing requests failed")
		return
	}
	allow, err := s.pairing.AllowFrom(r.Context(), domain.ChannelMeshtastic)
	if err != nil {
		reqLog(r).Error().Err(err).Msg("reading allow list failed")
		writeError(w, http.StatusInternalServerError, "reading allow list failed")
		return
	}
	resp := PairingResponse{Pending: pending, AllowFrom: allow}
	if resp.Pending == nil {
		resp.Pending = []store.PairingRequest{}
	}
	if resp.AllowFrom == nil {
		resp.AllowFrom = []string{}
	}
	writeJSON(w, http.StatusOK, resp)
}

type approveRequest struct {
	Code string `json:"code"`
}

func (s *Server) handlePairingApprove(w http.ResponseWriter, r *http.Request) {
	if s.pairing == nil {
		writeError(w, http.StatusServiceUnavailable, "pairing store not configured")
		return
	}
	var req approveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}

	approved, err := s.pairing.Approve(r.Context(), domain.ChannelMeshtastic, req.Code)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no pending request with that code")
		return
	}
	if err != nil {
		reqLog(r).Error().Err(err).Msg("approving pairing request failed")
		writeError(w, http.StatusInternalServerError, "approval failed")
		return
	}

	reqLog(r).Info().Str("sender", approved.SenderID).Str("name", approved.Name).Msg("pairing approved")
	writeJSON(w, http.StatusOK, map[string]any{"approved": approved})
}

type revokeRequest struct {
	ID string `json:"id"`
}

func (s *Server) handlePairingRevoke(w http.ResponseWriter, r *http.Request) {
	if s.pairing == nil {
		writeError(w, http.StatusServiceUnavailable, "pairing store not configured")
		return
	}
	var req revokeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := domain.NormalizeNodeID(req.ID)
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	removed, err := s.pairing.Revoke(r.Context(), domain.ChannelMeshtastic, id)
	if err != nil {
		reqLog(r).Error().Err(err).Msg("revoking sender failed")
		writeError(w, http.StatusInternalServerError, "revoke failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "removed": removed})
}

// SendRequest is the body of POST /send. Target uses the "ch<N>:<node>" form.
type SendRequest struct {
	Account string `json:"account,omitempty"`
	Target  string `json:"target"`
	Text    string `json:"text"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if s.channels == nil {
		writeError(w, http.StatusServiceUnavailable, "no channels running")
		return
	}
	var req SendRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	target, err := domain.ParseTarget(req.Target)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	account := req.Account
	if account == "" {
		account = config.DefaultAccountID
	}
	ch, ok := s.channels.Get(account)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown account: "+account)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), sendTimeout)
	defer cancel()
	if err := ch.Send(ctx, domain.OutboundMessage{AccountID: account, Target: target, Body: req.Text}); err != nil {
		reqLog(r).Warn().Err(err).Str("target", target.String()).Msg("manual send failed")
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": account, "target": target.String(), "sent": true})
}
