// Package httpapi serves the request/response collaborators of the
// messaging core: public key lookup, history pages, the chat list and
// media presign. Everything here is authenticated with the same session
// tokens the TCP transport verifies.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hirewire/messaging/internal/common"
	"github.com/hirewire/messaging/internal/logging"
	"github.com/hirewire/messaging/internal/protocol"
	"github.com/hirewire/messaging/internal/server/auth"
	"github.com/hirewire/messaging/internal/server/chatlist"
	"github.com/hirewire/messaging/internal/server/repositories/users"
	"github.com/hirewire/messaging/internal/server/services"
)

type contextKey string

const userIDKey contextKey = "userID"

// API bundles the HTTP handlers and their dependencies.
type API struct {
	messages *services.MessageService
	media    *services.MediaService
	chatlist *chatlist.Service
	users    users.Repository
	secret   []byte
	logger   logging.Logger
}

func New(messages *services.MessageService, media *services.MediaService, cl *chatlist.Service, userRepo users.Repository, secret []byte, logger logging.Logger) *API {
	return &API{
		messages: messages,
		media:    media,
		chatlist: cl,
		users:    userRepo,
		secret:   secret,
		logger:   logger,
	}
}

// Handler returns the routed HTTP handler.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /public_key/{userId}", a.withAuth(a.handlePublicKey))
	mux.HandleFunc("GET /messages", a.withAuth(a.handleMessages))
	mux.HandleFunc("GET /chat-list", a.withAuth(a.handleChatList))
	mux.HandleFunc("POST /media/presign", a.withAuth(a.handleMediaPresign))
	return mux
}

// NewHTTPServer wraps the handler in a server with sane timeouts.
func (a *API) NewHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
}

// withAuth verifies the bearer token and stashes the caller identity in
// the request context.
func (a *API) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get(common.AuthorizationHeaderName)
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeJSONError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		userID, err := auth.GetUserIDFromToken(token, a.secret)
		if err != nil {
			writeJSONError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next(w, r.WithContext(ctx))
	}
}

func callerID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}

func (a *API) handlePublicKey(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	if userID == "" {
		writeJSONError(w, http.StatusBadRequest, "missing userId")
		return
	}

	pem, err := a.users.PublicKey(r.Context(), userID)
	if err != nil {
		if errors.Is(err, common.ErrKeyNotFound) || errors.Is(err, common.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, "no key registered")
			return
		}
		a.internalError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"userId":    userID,
		"publicKey": pem,
	})
}

// messagesResponse is one history page, newest first.
type messagesResponse struct {
	Messages []*protocol.MessageRecord `json:"messages"`
	HasMore  bool                      `json:"hasMore"`
}

func (a *API) handleMessages(w http.ResponseWriter, r *http.Request) {
	caller := callerID(r)
	peerID := r.URL.Query().Get("recipientId")
	if peerID == "" {
		writeJSONError(w, http.StatusBadRequest, "missing recipientId")
		return
	}

	limit := queryInt(r, "limit", 50)
	skip := queryInt(r, "skip", 0)

	page, hasMore, err := a.messages.ConversationPage(r.Context(), caller, peerID, limit, skip)
	if err != nil {
		a.internalError(w, r, err)
		return
	}

	records := make([]*protocol.MessageRecord, len(page))
	for i, m := range page {
		records[i] = m.Record()
	}

	writeJSON(w, http.StatusOK, &messagesResponse{Messages: records, HasMore: hasMore})
}

// chatListItem is the wire form of one chat-list entry.
type chatListItem struct {
	PeerID        string                  `json:"peerId"`
	Username      string                  `json:"username"`
	PhotoURL      string                  `json:"photoUrl,omitempty"`
	StatusText    string                  `json:"statusText,omitempty"`
	LastSeen      int64                   `json:"lastSeen"`
	LatestMessage *protocol.MessageRecord `json:"latestMessage,omitempty"`
	UnreadCount   int                     `json:"unreadCount"`
	IsContact     bool                    `json:"isContact"`
}

func (a *API) handleChatList(w http.ResponseWriter, r *http.Request) {
	entries, err := a.chatlist.Build(r.Context(), callerID(r))
	if err != nil {
		a.internalError(w, r, err)
		return
	}

	items := make([]*chatListItem, len(entries))
	for i, e := range entries {
		item := &chatListItem{
			PeerID:      e.PeerID,
			Username:    e.Username,
			PhotoURL:    e.PhotoURL,
			StatusText:  e.StatusText,
			LastSeen:    e.LastSeen.UnixMilli(),
			UnreadCount: e.UnreadCount,
			IsContact:   e.IsContact,
		}
		if e.LatestMessage != nil {
			item.LatestMessage = e.LatestMessage.Record()
		}
		items[i] = item
	}

	writeJSON(w, http.StatusOK, map[string]any{"chats": items})
}

// presignResponse carries an upload grant: the client PUTs encrypted
// media to uploadUrl and sends storageKey inside the message content.
type presignResponse struct {
	StorageKey string `json:"storageKey"`
	UploadURL  string `json:"uploadUrl"`
}

func (a *API) handleMediaPresign(w http.ResponseWriter, r *http.Request) {
	key, url, err := a.media.PresignedPutURL(r.Context(), callerID(r))
	if err != nil {
		a.internalError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, &presignResponse{StorageKey: key, UploadURL: url})
}

func (a *API) internalError(w http.ResponseWriter, r *http.Request, err error) {
	a.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	writeJSONError(w, http.StatusInternalServerError, "internal error")
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}
