package server

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"time"

	"github.com/SaiNageswarS/go-collection-boot/async"
	"github.com/abhirockzz/langchaingo-site-assistant/chat"
	"github.com/abhirockzz/langchaingo-site-assistant/cosmosdb"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"go.uber.org/zap"
)

//go:embed static
var staticFiles embed.FS

const busyMessage = "Please wait for the current answer before asking another question."

// ConversationLister lists archived conversations for a user.
type ConversationLister interface {
	ListConversations(ctx context.Context, userID string) ([]cosmosdb.Conversation, error)
}

type App struct {
	sessions      *chat.Registry
	conversations ConversationLister
	markdown      goldmark.Markdown
	log           *zap.Logger
}

// New wires the HTTP handlers to the session registry. conversations may be
// nil when no archive is configured.
func New(sessions *chat.Registry, conversations ConversationLister, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		sessions:      sessions,
		conversations: conversations,
		markdown:      goldmark.New(goldmark.WithExtensions(extension.GFM)),
		log:           logger,
	}
}

// Routes returns the router serving the chat page and the API.
func (app *App) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/health"))

	r.HandleFunc("/api/chat/start", app.HandleStartChat)
	r.HandleFunc("/api/chat/input", app.HandleSetInput)
	r.HandleFunc("/api/chat/message", app.HandleSendMessage)
	r.HandleFunc("/api/chat/history", app.HandleGetHistory)
	r.HandleFunc("/api/user/conversations", app.HandleListConversations)
	r.HandleFunc("/api/chat/delete", app.HandleDeleteConversation)

	static, _ := fs.Sub(staticFiles, "static")
	r.Handle("/*", http.FileServer(http.FS(static)))
	return r
}

func (app *App) HandleStartChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req StartChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendErrorResponse(w, "Invalid request format", http.StatusBadRequest)
		return
	}

	if req.UserID == "" {
		sendErrorResponse(w, "User ID is required", http.StatusBadRequest)
		return
	}

	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	if _, err := app.sessions.GetOrCreate(req.UserID, req.SessionID); err != nil {
		app.log.Error("Error creating session", zap.String("sessionID", req.SessionID), zap.Error(err))
		sendErrorResponse(w, "Failed to create chat session", http.StatusInternalServerError)
		return
	}

	sendJSON(w, StartChatResponse{SessionID: req.SessionID, Success: true})
}

func (app *App) HandleSetInput(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req SetInputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendErrorResponse(w, "Invalid request format", http.StatusBadRequest)
		return
	}

	if req.UserID == "" || req.SessionID == "" {
		sendErrorResponse(w, "UserID and SessionID are required", http.StatusBadRequest)
		return
	}

	session, err := app.sessions.GetOrCreate(req.UserID, req.SessionID)
	if err != nil {
		app.log.Error("Error creating session", zap.String("sessionID", req.SessionID), zap.Error(err))
		sendErrorResponse(w, "Failed to create chat session", http.StatusInternalServerError)
		return
	}
	session.SetInput(req.Input)

	sendJSON(w, SetInputResponse{Success: true})
}

func (app *App) HandleSendMessage(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendErrorResponse(w, "Invalid request format", http.StatusBadRequest)
		return
	}

	if req.UserID == "" || req.SessionID == "" {
		sendErrorResponse(w, "UserID and SessionID are required", http.StatusBadRequest)
		return
	}

	session, err := app.sessions.GetOrCreate(req.UserID, req.SessionID)
	if err != nil {
		app.log.Error("Error creating session", zap.String("sessionID", req.SessionID), zap.Error(err))
		sendErrorResponse(w, "Failed to create chat session", http.StatusInternalServerError)
		return
	}

	var future <-chan async.Result[chat.Turn]
	if req.Message == "" {
		future, err = session.Submit(r.Context())
	} else {
		future, err = session.SubmitQuestion(r.Context(), req.Message)
	}

	switch {
	case errors.Is(err, chat.ErrEmptyQuestion):
		sendJSON(w, SendMessageResponse{Accepted: false, Messages: app.render(session.Transcript())})
		return
	case errors.Is(err, chat.ErrBusy):
		sendErrorResponse(w, busyMessage, http.StatusConflict)
		return
	case err != nil:
		app.log.Error("Error submitting question", zap.String("sessionID", req.SessionID), zap.Error(err))
		sendErrorResponse(w, "Failed to submit question", http.StatusInternalServerError)
		return
	}

	// The session commits the reply even if this request is abandoned.
	answered := make(chan chat.Turn, 1)
	go func() {
		turn, _ := async.Await(future)
		answered <- turn
	}()

	var reply chat.Turn
	select {
	case reply = <-answered:
	case <-r.Context().Done():
		app.log.Warn("Client went away before the answer", zap.String("sessionID", req.SessionID), zap.Error(r.Context().Err()))
		return
	}

	app.log.Info("Question answered",
		zap.String("userID", req.UserID),
		zap.String("sessionID", req.SessionID),
		zap.Duration("elapsed", time.Since(start)))

	sendJSON(w, SendMessageResponse{
		Accepted: true,
		Response: reply.Content,
		Messages: app.render(session.Transcript()),
	})
}

func (app *App) HandleGetHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := r.URL.Query().Get("userID")
	sessionID := r.URL.Query().Get("sessionID")

	if userID == "" || sessionID == "" {
		sendErrorResponse(w, "UserID and SessionID are required", http.StatusBadRequest)
		return
	}

	response := ChatHistoryResponse{Messages: []MessageInfo{}}
	if session, ok := app.sessions.Get(userID, sessionID); ok {
		response.Messages = app.render(session.Transcript())
		response.Input = session.Input()
		response.Pending = session.State() == chat.AwaitingResponse
	}

	sendJSON(w, response)
}

func (app *App) HandleListConversations(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := r.URL.Query().Get("userID")
	if userID == "" {
		sendErrorResponse(w, "UserID is required", http.StatusBadRequest)
		return
	}

	response := ListConversationsResponse{Conversations: []ConversationInfo{}}
	if app.conversations != nil {
		conversations, err := app.conversations.ListConversations(r.Context(), userID)
		if err != nil {
			app.log.Error("Error querying for conversations", zap.String("userID", userID), zap.Error(err))
			sendErrorResponse(w, "Failed to retrieve conversations", http.StatusInternalServerError)
			return
		}
		for _, c := range conversations {
			response.Conversations = append(response.Conversations, ConversationInfo{
				SessionID:    c.SessionID,
				MessageCount: c.MessageCount,
			})
		}
	}

	app.log.Debug("Conversations retrieved",
		zap.Int("count", len(response.Conversations)),
		zap.String("userID", userID),
		zap.Duration("elapsed", time.Since(start)))

	sendJSON(w, response)
}

func (app *App) HandleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req DeleteConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendErrorResponse(w, "Invalid request format", http.StatusBadRequest)
		return
	}

	if req.UserID == "" || req.SessionID == "" {
		sendErrorResponse(w, "UserID and SessionID are required", http.StatusBadRequest)
		return
	}

	if err := app.sessions.Delete(r.Context(), req.UserID, req.SessionID); err != nil {
		app.log.Error("Error deleting conversation", zap.String("sessionID", req.SessionID), zap.Error(err))
		sendErrorResponse(w, "Failed to delete conversation", http.StatusInternalServerError)
		return
	}

	app.log.Info("Deleted conversation",
		zap.String("sessionID", req.SessionID),
		zap.String("userID", req.UserID),
		zap.Duration("elapsed", time.Since(start)))
	sendJSON(w, DeleteConversationResponse{Success: true})
}

// render converts committed turns for display. Assistant turns are markdown
// and also carry their HTML rendering.
func (app *App) render(turns []chat.Turn) []MessageInfo {
	infos := make([]MessageInfo, 0, len(turns))
	for _, t := range turns {
		info := MessageInfo{Role: string(t.Role), Content: t.Content}
		if t.Role == chat.Assistant {
			var buf bytes.Buffer
			if err := app.markdown.Convert([]byte(t.Content), &buf); err != nil {
				app.log.Warn("Failed to render markdown", zap.Error(err))
			} else {
				info.HTML = buf.String()
			}
		}
		infos = append(infos, info)
	}
	return infos
}

func sendJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// Helper function to send error responses
func sendErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}
