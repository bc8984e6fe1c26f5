package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	cause := errors.New("connection reset")

	testCases := []struct {
		name string
		err  error
		want Kind
	}{
		{"validation", Validation("totalQuestions must equal %d", 4), KindValidation},
		{"wrapped conflict", fmt.Errorf("review: %w", Conflict("already approved")), KindConflict},
		{"upstream", Upstream(cause, "agent did not answer"), KindUpstream},
		{"plain error", cause, KindInternal},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, KindOf(tc.err))
		})
	}
}

func TestUpstreamKeepsCause(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := Upstream(cause, "agent a1 did not answer")

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "agent a1 did not answer: dial tcp: timeout", err.Error())
	assert.Equal(t, "agent a1 did not answer", Message(err))
	assert.True(t, Is(err, KindUpstream))
	assert.False(t, Is(nil, KindUpstream))
}
