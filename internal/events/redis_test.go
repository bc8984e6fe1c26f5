package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockStream struct {
	mock.Mock
}

func (m *mockStream) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	args := m.Called(ctx, a)
	cmd := redis.NewStringCmd(ctx)
	if err := args.Error(0); err != nil {
		cmd.SetErr(err)
	} else {
		cmd.SetVal("1700000000000-0")
	}
	return cmd
}

func TestRedisPublisher_Publish(t *testing.T) {
	stream := new(mockStream)
	stream.On("XAdd", mock.Anything, mock.MatchedBy(func(a *redis.XAddArgs) bool {
		values := a.Values.(map[string]any)
		return a.Stream == "expertgate-events" &&
			a.MaxLen == 1000 && a.Approx &&
			values["type"] == ShareCreated &&
			values["subject"] == "agent-1" &&
			values["payload"] == `{"level":"use"}`
	})).Return(nil)

	p := NewRedisPublisher(stream, "expertgate-events", 1000)
	err := p.Publish(context.Background(), Event{
		Type:    ShareCreated,
		Subject: "agent-1",
		Actor:   "u1",
		Fields:  map[string]string{"level": "use"},
		At:      time.Now(),
	})

	require.NoError(t, err)
	stream.AssertExpectations(t)
}

func TestRedisPublisher_PublishError(t *testing.T) {
	stream := new(mockStream)
	stream.On("XAdd", mock.Anything, mock.Anything).Return(errors.New("connection refused"))

	p := NewRedisPublisher(stream, "events", 0)
	err := p.Publish(context.Background(), Event{Type: ShareRevoked})

	assert.ErrorContains(t, err, "failed to publish share.revoked to events")
}

func TestEmitSwallowsErrors(t *testing.T) {
	stream := new(mockStream)
	stream.On("XAdd", mock.Anything, mock.Anything).Return(errors.New("down"))
	logger := zerolog.Nop()

	assert.NotPanics(t, func() {
		Emit(context.Background(), NewRedisPublisher(stream, "events", 0), &logger, Event{Type: EvaluationCreated})
		Emit(context.Background(), nil, &logger, Event{Type: EvaluationCreated})
		Emit(context.Background(), Nop{}, &logger, Event{Type: EvaluationCreated})
	})
	stream.AssertNumberOfCalls(t, "XAdd", 1)
}
