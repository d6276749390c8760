package server

// Request and response types
type StartChatRequest struct {
	UserID    string `json:"userID"`
	SessionID string `json:"sessionID"`
}

type StartChatResponse struct {
	SessionID string `json:"sessionID"`
	Success   bool   `json:"success"`
}

type SetInputRequest struct {
	UserID    string `json:"userID"`
	SessionID string `json:"sessionID"`
	Input     string `json:"input"`
}

type SetInputResponse struct {
	Success bool `json:"success"`
}

// SendMessageRequest submits Message as the next question. An empty Message
// submits whatever is in the session's input buffer.
type SendMessageRequest struct {
	UserID    string `json:"userID"`
	SessionID string `json:"sessionID"`
	Message   string `json:"message"`
}

type SendMessageResponse struct {
	Accepted bool          `json:"accepted"`
	Response string        `json:"response,omitempty"`
	Messages []MessageInfo `json:"messages"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type MessageInfo struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	HTML    string `json:"html,omitempty"`
}

type ChatHistoryResponse struct {
	Messages []MessageInfo `json:"messages"`
	Input    string        `json:"input"`
	Pending  bool          `json:"pending"`
}

type ConversationInfo struct {
	SessionID    string `json:"sessionID"`
	MessageCount int    `json:"messageCount"`
}

type ListConversationsResponse struct {
	Conversations []ConversationInfo `json:"conversations"`
}

type DeleteConversationRequest struct {
	UserID    string `json:"userID"`
	SessionID string `json:"sessionID"`
}

type DeleteConversationResponse struct {
	Success bool `json:"success"`
}
