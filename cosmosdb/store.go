package cosmosdb

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/data/azcosmos"
	"github.com/tmc/langchaingo/schema"
)

// Conversation summarizes one archived session.
type Conversation struct {
	SessionID    string
	MessageCount int
}

// Store opens per-session histories in one container and lists a user's
// archived conversations.
type Store struct {
	container *azcosmos.ContainerClient
}

func NewStore(client *azcosmos.Client, databaseName, containerName string) (*Store, error) {
	database, err := client.NewDatabase(databaseName)
	if err != nil {
		return nil, err
	}
	container, err := database.NewContainer(containerName)
	if err != nil {
		return nil, err
	}
	return &Store{container: container}, nil
}

// History returns the archive of one session. It has the chat.ArchiveFactory shape.
func (s *Store) History(userID, sessionID string) (schema.ChatMessageHistory, error) {
	return newHistory(s.container, sessionID, userID), nil
}

// ListConversations returns every archived conversation of userID.
func (s *Store) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	pk := azcosmos.NewPartitionKeyString(userID)
	pager := s.container.NewQueryItemsPager("SELECT c.id, c.messages FROM c WHERE c.userid = @userid", pk, &azcosmos.QueryOptions{
		QueryParameters: []azcosmos.QueryParameter{{Name: "@userid", Value: userID}},
	})

	var conversations []Conversation
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query conversations for %s: %w", userID, err)
		}
		for _, raw := range page.Items {
			var conv conversation
			if err := json.Unmarshal(raw, &conv); err != nil {
				continue
			}
			if conv.ID == "" {
				continue
			}
			conversations = append(conversations, Conversation{SessionID: conv.ID, MessageCount: len(conv.Messages)})
		}
	}
	return conversations, nil
}
