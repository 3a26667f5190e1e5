package service

import (
	"context"

	"devicesync/internal/models"
)

// Transport is the supervisor as seen by the connection service.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect()
	State() models.ConnectionState
}

type ConnectionService struct {
	transport Transport
}

func NewConnectionService(t Transport) *ConnectionService {
	return &ConnectionService{transport: t}
}

func (s *ConnectionService) Connect(ctx context.Context) error {
	return s.transport.Connect(ctx)
}

func (s *ConnectionService) Disconnect(ctx context.Context) {
	s.transport.Disconnect()
}

func (s *ConnectionService) State(ctx context.Context) models.ConnectionState {
	return s.transport.State()
}
