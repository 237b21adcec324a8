package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// PublisherMock stands in for the event bus publisher.
type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	args := m.Called(ctx, routingKey, event)
	return args.Error(0)
}

func (m *PublisherMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

// AcceptAll lets every Publish call succeed.
func (m *PublisherMock) AcceptAll() *PublisherMock {
	m.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	return m
}

// Published returns the events sent under routingKey, oldest first.
func (m *PublisherMock) Published(routingKey string) []any {
	var out []any
	for _, call := range m.Calls {
		if call.Method == "Publish" && call.Arguments.String(1) == routingKey {
			out = append(out, call.Arguments.Get(2))
		}
	}
	return out
}
