// Package cosmosdb archives conversation transcripts in Azure Cosmos DB. Each
// session is one item, partitioned by user ID:
//
//	{"id": "<sessionID>", "userid": "<userID>", "messages": [{"type": "human", "content": "..."}]}
package cosmosdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/azcosmos"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
)

type conversation struct {
	ID       string    `json:"id"`
	UserID   string    `json:"userid"`
	Messages []message `json:"messages"`
}

type message struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// ChatMessageHistory is a schema.ChatMessageHistory stored in a Cosmos DB container.
type ChatMessageHistory struct {
	container *azcosmos.ContainerClient
	sessionID string
	userID    string
}

var _ schema.ChatMessageHistory = (*ChatMessageHistory)(nil)

// NewCosmosDBChatMessageHistory returns the history of one session.
func NewCosmosDBChatMessageHistory(client *azcosmos.Client, databaseName, containerName, sessionID, userID string) (*ChatMessageHistory, error) {
	container, err := client.NewContainer(databaseName, containerName)
	if err != nil {
		return nil, fmt.Errorf("get container %s/%s: %w", databaseName, containerName, err)
	}
	return newHistory(container, sessionID, userID), nil
}

func newHistory(container *azcosmos.ContainerClient, sessionID, userID string) *ChatMessageHistory {
	return &ChatMessageHistory{container: container, sessionID: sessionID, userID: userID}
}

func (h *ChatMessageHistory) partitionKey() azcosmos.PartitionKey {
	return azcosmos.NewPartitionKeyString(h.userID)
}

func (h *ChatMessageHistory) read(ctx context.Context) (*conversation, error) {
	resp, err := h.container.ReadItem(ctx, h.partitionKey(), h.sessionID, nil)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return &conversation{ID: h.sessionID, UserID: h.userID}, nil
		}
		return nil, fmt.Errorf("read conversation %s: %w", h.sessionID, err)
	}

	var conv conversation
	if err := json.Unmarshal(resp.Value, &conv); err != nil {
		return nil, fmt.Errorf("decode conversation %s: %w", h.sessionID, err)
	}
	return &conv, nil
}

func (h *ChatMessageHistory) write(ctx context.Context, conv *conversation) error {
	item, err := json.Marshal(conv)
	if err != nil {
		return err
	}
	if _, err := h.container.UpsertItem(ctx, h.partitionKey(), item, nil); err != nil {
		return fmt.Errorf("upsert conversation %s: %w", h.sessionID, err)
	}
	return nil
}

// Messages returns the archived messages, oldest first.
func (h *ChatMessageHistory) Messages(ctx context.Context) ([]llms.ChatMessage, error) {
	conv, err := h.read(ctx)
	if err != nil {
		return nil, err
	}
	return toChatMessages(conv.Messages), nil
}

func (h *ChatMessageHistory) AddMessage(ctx context.Context, msg llms.ChatMessage) error {
	conv, err := h.read(ctx)
	if err != nil {
		return err
	}
	conv.Messages = append(conv.Messages, fromChatMessage(msg))
	return h.write(ctx, conv)
}

func (h *ChatMessageHistory) AddUserMessage(ctx context.Context, text string) error {
	return h.AddMessage(ctx, llms.HumanChatMessage{Content: text})
}

func (h *ChatMessageHistory) AddAIMessage(ctx context.Context, text string) error {
	return h.AddMessage(ctx, llms.AIChatMessage{Content: text})
}

func (h *ChatMessageHistory) SetMessages(ctx context.Context, messages []llms.ChatMessage) error {
	conv := &conversation{ID: h.sessionID, UserID: h.userID, Messages: make([]message, 0, len(messages))}
	for _, msg := range messages {
		conv.Messages = append(conv.Messages, fromChatMessage(msg))
	}
	return h.write(ctx, conv)
}

// Clear deletes the conversation. Clearing a missing conversation succeeds.
func (h *ChatMessageHistory) Clear(ctx context.Context) error {
	_, err := h.container.DeleteItem(ctx, h.partitionKey(), h.sessionID, nil)
	if err != nil && !isStatus(err, http.StatusNotFound) {
		return fmt.Errorf("delete conversation %s: %w", h.sessionID, err)
	}
	return nil
}

func fromChatMessage(msg llms.ChatMessage) message {
	return message{Type: string(msg.GetType()), Content: msg.GetContent()}
}

func toChatMessages(messages []message) []llms.ChatMessage {
	out := make([]llms.ChatMessage, 0, len(messages))
	for _, m := range messages {
		switch llms.ChatMessageType(m.Type) {
		case llms.ChatMessageTypeHuman:
			out = append(out, llms.HumanChatMessage{Content: m.Content})
		case llms.ChatMessageTypeAI:
			out = append(out, llms.AIChatMessage{Content: m.Content})
		case llms.ChatMessageTypeSystem:
			out = append(out, llms.SystemChatMessage{Content: m.Content})
		default:
			out = append(out, llms.GenericChatMessage{Role: m.Type, Content: m.Content})
		}
	}
	return out
}

func isStatus(err error, status int) bool {
	var responseErr *azcore.ResponseError
	if errors.As(err, &responseErr) {
		return responseErr.StatusCode == status
	}
	return false
}
