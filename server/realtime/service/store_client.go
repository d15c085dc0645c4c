package service

import (
	"context"
	"time"

	"rtc_server/server/common/infra/storehttp"
	"rtc_server/server/realtime/domain"
)

// StoreClient talks to the store service, which owns the durable user,
// conversation and participant records.
type StoreClient struct {
	client *storehttp.Client
}

const storeBasePath = storehttp.BasePath

func NewStoreClient(endpoints ...string) *StoreClient {
	return &StoreClient{client: storehttp.NewClient(endpoints...)}
}

func (c *StoreClient) FindConversationParticipants(ctx context.Context, conversationID string) (domain.ConversationInfo, error) {
	payload := map[string]any{"conversation_id": conversationID}
	var out domain.ConversationInfo
	if err := c.client.Post(ctx, storeBasePath+"/conversations/participants", payload, &out); err != nil {
		return domain.ConversationInfo{}, err
	}
	return out, nil
}

func (c *StoreClient) SetUserPresence(ctx context.Context, userID string, online bool) error {
	payload := map[string]any{"user_id": userID, "online": online}
	var out map[string]any
	return c.client.Post(ctx, storeBasePath+"/users/presence", payload, &out)
}

func (c *StoreClient) SetUserLastSeen(ctx context.Context, userID string, at time.Time) error {
	payload := map[string]any{"user_id": userID, "last_seen_at": at.UTC()}
	var out map[string]any
	return c.client.Post(ctx, storeBasePath+"/users/last-seen", payload, &out)
}
