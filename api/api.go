// Package api serves the message store over http: the conversation list, the history of
// one conversation and message sending. Sending also hands the stored message to the
// relay for a best-effort push.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/golang/glog"
	"github.com/gorilla/mux"

	"github.com/mqy/pairchat/auth"
	"github.com/mqy/pairchat/identity"
	"github.com/mqy/pairchat/model"
	"github.com/mqy/pairchat/store"
)

const (
	// BasePath is the prefix of every route.
	BasePath = "/api/message"

	maxBodyBytes = 1 << 20
)

// Publisher hands persisted messages over for fanout.
type Publisher interface {
	Publish(ctx context.Context, msg *model.Message) error
}

type Api struct {
	authClient auth.Client
	store      store.IMessageStore
	publisher  Publisher
	limiter    *limiterPool
}

func NewApi(authClient auth.Client, s store.IMessageStore, publisher Publisher) *Api {
	return &Api{
		authClient: authClient,
		store:      s,
		publisher:  publisher,
	}
}

// WithSendLimit limits each user to rps messages per second with bursts of burst.
// A non positive rps disables the limit.
func (a *Api) WithSendLimit(rps float64, burst int) *Api {
	if rps > 0 {
		a.limiter = newLimiterPool(rps, burst)
	} else {
		a.limiter = nil
	}
	return a
}

// Register mounts the routes on r.
func (a *Api) Register(r *mux.Router) {
	sub := r.PathPrefix(BasePath).Subrouter()
	sub.HandleFunc("/users", a.withAuth(a.getUsers)).Methods(http.MethodGet)
	sub.HandleFunc("/send/{peer}", a.withAuth(a.sendMessage)).Methods(http.MethodPost)
	sub.HandleFunc("/{peer}", a.withAuth(a.getMessages)).Methods(http.MethodGet)
}

// Handler returns a router serving only the api routes.
func (a *Api) Handler() http.Handler {
	r := mux.NewRouter()
	a.Register(r)
	return r
}

type authedHandler func(w http.ResponseWriter, r *http.Request, self string)

func (a *Api) withAuth(h authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		self, err := a.authClient.Auth(r)
		if err != nil {
			glog.V(5).Infof("api: %s %s: authenticate error: %v", r.Method, r.URL.Path, err)
			writeError(w, http.StatusUnauthorized, model.ErrCodeUnauthorized, "Unauthorized")
			return
		}
		h(w, r, self)
	}
}

func (a *Api) getUsers(w http.ResponseWriter, r *http.Request, self string) {
	users, err := a.store.FetchUsers(r.Context(), self)
	if err != nil {
		glog.Errorf("api: fetch users of %s error: %v", self, err)
		writeError(w, http.StatusInternalServerError, model.ErrCodeInternal, "Failed to load users")
		return
	}
	if users == nil {
		users = []*model.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

func (a *Api) getMessages(w http.ResponseWriter, r *http.Request, self string) {
	peer := identity.Normalize(mux.Vars(r)["peer"])
	msgs, err := a.store.FetchMessages(r.Context(), self, peer)
	if err != nil {
		glog.Errorf("api: fetch messages %s<->%s error: %v", self, peer, err)
		writeError(w, http.StatusInternalServerError, model.ErrCodeInternal, "Failed to load messages")
		return
	}
	if msgs == nil {
		msgs = []*model.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (a *Api) sendMessage(w http.ResponseWriter, r *http.Request, self string) {
	peer := identity.Normalize(mux.Vars(r)["peer"])

	if a.limiter != nil && !a.limiter.Allow(self) {
		writeError(w, http.StatusTooManyRequests, model.ErrCodeRateLimited, "Too many messages, slow down")
		return
	}

	var payload model.Payload
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil || json.Unmarshal(body, &payload) != nil {
		writeError(w, http.StatusBadRequest, model.ErrCodeInvalidMsg, "Invalid message body")
		return
	}

	msg, err := a.store.SaveMessage(r.Context(), self, peer, payload)
	switch {
	case errors.Is(err, store.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, model.ErrCodeInvalidMsg, "Message text or image is required")
		return
	case errors.Is(err, store.ErrUserNotFound):
		writeError(w, http.StatusNotFound, model.ErrCodeNotFound, "Receiver not found")
		return
	case err != nil:
		glog.Errorf("api: save message %s->%s error: %v", self, peer, err)
		writeError(w, http.StatusInternalServerError, model.ErrCodeInternal, "Failed to send message")
		return
	}

	// The message is durable now; a failed push is healed by the receiver's next poll.
	if err := a.publisher.Publish(r.Context(), msg); err != nil {
		glog.Errorf("api: publish message %s error: %v", msg.ID, err)
	}

	writeJSON(w, http.StatusCreated, msg)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		glog.Errorf("api: write response error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, model.ErrorMessage{Code: code, Message: message})
}
