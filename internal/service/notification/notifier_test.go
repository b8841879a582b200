package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSender struct {
	mock.Mock
	name string
}

func (m *mockSender) Send(ctx context.Context, title, message string) error {
	return m.Called(ctx, title, message).Error(0)
}

func (m *mockSender) Name() string {
	return m.name
}

func TestNotifier_Notify(t *testing.T) {
	ok := &mockSender{name: "ok"}
	ok.On("Send", mock.Anything, "report", "body").Return(nil).Once()
	bad := &mockSender{name: "bad"}
	bad.On("Send", mock.Anything, "report", "body").Return(errors.New("boom")).Once()

	n := NewNotifier([]Sender{bad, ok}, nil, nil)
	err := n.Notify(context.Background(), EventReport, "report", "body")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: boom")

	ok.AssertExpectations(t)
	bad.AssertExpectations(t)
}

func TestNotifier_EventFilter(t *testing.T) {
	s := &mockSender{name: "s"}
	s.On("Send", mock.Anything, "emergency", "saved").Return(nil).Once()

	n := NewNotifier([]Sender{s}, []string{" emergency "}, nil)
	require.NoError(t, n.Notify(context.Background(), EventReport, "report", "body"))
	require.NoError(t, n.Notify(context.Background(), EventEmergency, "emergency", "saved"))

	s.AssertExpectations(t)
	s.AssertNotCalled(t, "Send", mock.Anything, "report", "body")
}

func TestWebhookSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := NewWebhookSender(srv.URL)
	require.NoError(t, w.Send(context.Background(), "title", "line"))
	assert.Equal(t, "**title**\n```\nline\n```", got["content"])

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer failing.Close()
	assert.ErrorContains(t, NewWebhookSender(failing.URL).Send(context.Background(), "t", "m"), "status 400")
}
