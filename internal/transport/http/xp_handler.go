package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"

	"xp-integrity-service/internal/app"
)

const maxGrantBody = 16 << 10

type XPHandler struct {
	service *app.XPService
	proxies TrustedProxies
	log     logrus.FieldLogger
}

func NewXPHandler(service *app.XPService, proxies TrustedProxies, log logrus.FieldLogger) *XPHandler {
	return &XPHandler{service: service, proxies: proxies, log: log}
}

// ServeGrant handles POST /xp-grant.
func (h *XPHandler) ServeGrant(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}

	var payload grantPayload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxGrantBody)).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	req, err := payload.request(h.proxies.ClientIP(r), r.UserAgent())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	res, err := h.service.Grant(r.Context(), req)
	if err != nil {
		if !app.IsRejection(err) {
			h.log.WithError(err).WithField("actor", req.ActorID).Error("xp grant failed")
		}
		status, body := rejection(err)
		if rl, ok := body.(rateLimitedResponse); ok {
			w.Header().Set("Retry-After", strconv.FormatInt(rl.RetryAfter, 10))
		}
		writeJSON(w, status, body)
		return
	}
	writeJSON(w, http.StatusOK, newGrantResponse(res))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
