package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	domainauth "github.com/kerdos/kerdos-api/internal/domain/auth"
	"github.com/kerdos/kerdos-api/internal/ports"
)

// FlowStore keeps pending OAuth flows until their callback arrives.
type FlowStore struct {
	client redis.UniversalClient
	prefix string
}

var _ ports.FlowStore = (*FlowStore)(nil)

// NewFlowStore creates a FlowStore using the "oauth:flow:" key prefix.
func NewFlowStore(client redis.UniversalClient) *FlowStore {
	return &FlowStore{client: client, prefix: "oauth:flow:"}
}

// Put stores flow under its state for ttl.
func (s *FlowStore) Put(ctx context.Context, flow domainauth.PendingFlow, ttl time.Duration) error {
	if flow.State == "" {
		return errors.New("flow state cannot be empty")
	}
	data, err := json.Marshal(flow)
	if err != nil {
		return fmt.Errorf("marshal flow: %w", err)
	}
	return s.client.Set(ctx, s.prefix+flow.State, data, ttl).Err()
}

// Take atomically reads and deletes the flow so a state is redeemed at most once.
func (s *FlowStore) Take(ctx context.Context, state string) (domainauth.PendingFlow, error) {
	if state == "" {
		return domainauth.PendingFlow{}, ports.ErrNotFound
	}

	data, err := s.client.GetDel(ctx, s.prefix+state).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domainauth.PendingFlow{}, ports.ErrNotFound
		}
		return domainauth.PendingFlow{}, fmt.Errorf("redis getdel: %w", err)
	}

	var flow domainauth.PendingFlow
	if unmarshalErr := json.Unmarshal(data, &flow); unmarshalErr != nil {
		return domainauth.PendingFlow{}, fmt.Errorf("unmarshal flow: %w", unmarshalErr)
	}
	return flow, nil
}
