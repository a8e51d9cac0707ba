package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"xp-integrity-service/internal/app"
)

type WSHandler struct {
	service  *app.XPService
	feed     *app.LeaderboardFeed
	proxies  TrustedProxies
	log      logrus.FieldLogger
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.XPService, feed *app.LeaderboardFeed, proxies TrustedProxies, log logrus.FieldLogger) *WSHandler {
	return &WSHandler{
		service: service,
		feed:    feed,
		proxies: proxies,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type questionShownPayload struct {
	QuestionID string `json:"questionId"`
}

type challengePayload struct {
	QuestionID string    `json:"questionId"`
	Token      string    `json:"token"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS upgrades to a websocket bound to one actor. Grants sent over the
// socket always use the connection's actor; leaderboard updates of that actor
// are pushed as they are merged.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	actorID := r.URL.Query().Get("actorId")
	if actorID == "" {
		http.Error(w, "missing actorId", http.StatusBadRequest)
		return
	}
	ip, userAgent := h.proxies.ClientIP(r), r.UserAgent()
	log := h.log.WithField("actor", actorID)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("ws upgrade failed")
		return
	}
	defer conn.Close()

	updates, cancel := h.feed.Subscribe(actorID)
	defer cancel()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	// Single writer: gorilla connections do not allow concurrent writes. After
	// a failed write the writer keeps draining so the reader never blocks.
	go func() {
		defer close(writerDone)
		failed := false
		for msg := range send {
			if failed {
				continue
			}
			if err := conn.WriteJSON(msg); err != nil {
				log.WithError(err).Debug("ws write failed")
				failed = true
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case doc, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: "leaderboard", Payload: doc}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "xpGrant":
			var payload grantPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid xpGrant payload"}}
				continue
			}
			payload.ActorID = actorID
			send <- h.grant(r, log, payload, ip, userAgent)
		case "questionShown":
			var payload questionShownPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil || payload.QuestionID == "" {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid questionShown payload"}}
				continue
			}
			issuer := h.service.Challenges()
			if issuer == nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "challenge tokens are disabled"}}
				continue
			}
			token, expiresAt := issuer.Issue(actorID, payload.QuestionID)
			send <- outboundMessage[any]{Type: "challenge", Payload: challengePayload{
				QuestionID: payload.QuestionID,
				Token:      token,
				ExpiresAt:  expiresAt,
			}}
		default:
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}}
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

func (h *WSHandler) grant(r *http.Request, log logrus.FieldLogger, payload grantPayload, ip, userAgent string) outboundMessage[any] {
	req, err := payload.request(ip, userAgent)
	if err != nil {
		return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
	}
	res, err := h.service.Grant(r.Context(), req)
	if err == nil {
		return outboundMessage[any]{Type: "xpResult", Payload: newGrantResponse(res)}
	}

	status, body := rejection(err)
	switch status {
	case http.StatusTooManyRequests:
		return outboundMessage[any]{Type: "rateLimited", Payload: body}
	case http.StatusForbidden:
		return outboundMessage[any]{Type: "blocked", Payload: body}
	case http.StatusInternalServerError:
		log.WithError(err).Error("xp grant failed")
		return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "internal error"}}
	default:
		return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
	}
}
