package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"jobpilot-workers/internal/common/logger"
	"jobpilot-workers/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishToTopic(ctx context.Context, topicARN, subject, message string) (string, error) {
	args := m.Called(ctx, topicARN, subject, message)
	return args.String(0), args.Error(1)
}

func TestSNSNotifier_Notify(t *testing.T) {
	pub := new(mockPublisher)
	score := 88
	n := models.Notification{ApplicationID: "app-1", Status: models.StatusCompleted, Company: "Acme", MatchScore: &score}

	pub.On("PublishToTopic", mock.Anything, "arn:aws:sns:eu-west-1:1:jobs", "Job application completed: Acme",
		mock.MatchedBy(func(body string) bool {
			var got models.Notification
			return json.Unmarshal([]byte(body), &got) == nil && got.ApplicationID == "app-1"
		})).Return("msg-1", nil)

	notifier := NewSNSNotifier(pub, "arn:aws:sns:eu-west-1:1:jobs", logger.NewTestLogger(t))
	require.NoError(t, notifier.Notify(context.Background(), n))
	pub.AssertExpectations(t)
}

func TestBestEffort_SwallowsErrors(t *testing.T) {
	pub := new(mockPublisher)
	pub.On("PublishToTopic", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("", errors.New("throttled"))

	notifier := NewSNSNotifier(pub, "arn", logger.NewTestLogger(t))
	assert.NotPanics(t, func() {
		BestEffort(context.Background(), notifier, logger.NewTestLogger(t), models.Notification{ApplicationID: "app-2", Status: models.StatusFailed})
	})
	pub.AssertNumberOfCalls(t, "PublishToTopic", 1)
}
