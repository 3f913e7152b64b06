package providers

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/bentrade/bentrade/internal/domain"
)

// RemoteBroker talks to the read-only broker bridge over HTTP/JSON. It shares
// the RemoteProvider transport so broker failures land in the same error
// taxonomy and health tracking.
type RemoteBroker struct {
	client *RemoteProvider
}

// NewRemoteBroker creates a broker client for the bridge at baseURL.
func NewRemoteBroker(baseURL string, log zerolog.Logger) *RemoteBroker {
	return &RemoteBroker{
		client: NewRemoteProvider("broker", baseURL, log),
	}
}

type positionsResponse struct {
	Positions []domain.ActiveTrade `json:"positions"`
}

// GetPositions returns the broker's open positions.
func (b *RemoteBroker) GetPositions(ctx context.Context) ([]domain.ActiveTrade, error) {
	var resp positionsResponse
	if err := b.client.getJSON(ctx, "positions", "/api/broker/positions", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Positions, nil
}

type ordersResponse struct {
	Orders []domain.ActiveTrade `json:"orders"`
}

// GetOrders returns the broker's working orders.
func (b *RemoteBroker) GetOrders(ctx context.Context) ([]domain.ActiveTrade, error) {
	var resp ordersResponse
	if err := b.client.getJSON(ctx, "orders", "/api/broker/orders", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Orders, nil
}

// GetAccount returns the broker's account risk summary.
func (b *RemoteBroker) GetAccount(ctx context.Context) (*domain.RiskSummary, error) {
	var summary domain.RiskSummary
	if err := b.client.getJSON(ctx, "account", "/api/broker/account", nil, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}
