package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perchfield/relayq/internal/domain"
	"github.com/perchfield/relayq/internal/store"
)

// fakeMessageStore keeps messages in memory, indexed by provider
// message ID, and enforces the delivery transition table.
type fakeMessageStore struct {
	messages map[uuid.UUID]*domain.Message
	getErr   error
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{messages: make(map[uuid.UUID]*domain.Message)}
}

func (f *fakeMessageStore) Create(_ context.Context, message *domain.Message) error {
	copied := *message
	f.messages[message.ID] = &copied
	return nil
}

func (f *fakeMessageStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Message, error) {
	msg, ok := f.messages[id]
	if !ok {
		return nil, store.ErrMessageNotFound
	}
	copied := *msg
	return &copied, nil
}

func (f *fakeMessageStore) GetByProviderMessageID(_ context.Context, providerMessageID string) (*domain.Message, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	for _, msg := range f.messages {
		if msg.ProviderMessageID != nil && *msg.ProviderMessageID == providerMessageID {
			copied := *msg
			return &copied, nil
		}
	}
	return nil, store.ErrMessageNotFound
}

func (f *fakeMessageStore) TransitionDeliveryStatus(
	_ context.Context,
	id uuid.UUID,
	status domain.DeliveryStatus,
	params store.TransitionParams,
) error {
	msg, ok := f.messages[id]
	if !ok {
		return store.ErrMessageNotFound
	}
	if err := msg.TransitionTo(status); err != nil {
		return err
	}
	if params.ProviderStatusRaw != nil {
		msg.ProviderStatusRaw = params.ProviderStatusRaw
	}
	return nil
}

func (f *fakeMessageStore) WithTx(_ *sql.Tx) store.MessageStore { return f }

// sentMessage seeds a message that has been handed to the provider.
func sentMessage(t *testing.T, messages *fakeMessageStore, providerMessageID string) *domain.Message {
	t.Helper()
	msg, err := domain.NewMessage(domain.MessageChannelSMS, "+15551230000", "hello")
	require.NoError(t, err)
	msg.DeliveryStatus = domain.DeliveryStatusSent
	msg.ProviderMessageID = &providerMessageID
	require.NoError(t, messages.Create(context.Background(), msg))
	return msg
}

func postCallback(t *testing.T, handler *CallbackHandler, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reqBody []byte
	switch b := body.(type) {
	case string:
		reqBody = []byte(b)
	default:
		var err error
		reqBody, err = json.Marshal(body)
		require.NoError(t, err)
	}

	req := httptest.NewRequest(http.MethodPost, "/callbacks/delivery", bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.HandleDeliveryCallback(rec, req)
	return rec
}

func TestHandleDeliveryCallback(t *testing.T) {
	t.Parallel()

	t.Run("delivered receipt applies", func(t *testing.T) {
		t.Parallel()

		messages := newFakeMessageStore()
		msg := sentMessage(t, messages, "prov-1")
		handler := NewCallbackHandler(messages, nil)

		rec := postCallback(t, handler, DeliveryCallbackRequest{
			ProviderMessageID: "prov-1",
			Status:            "delivered",
			Raw:               `{"SmsStatus":"delivered"}`,
		})

		require.Equal(t, http.StatusOK, rec.Code)

		var resp DeliveryCallbackResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, msg.ID.String(), resp.MessageID)
		assert.Equal(t, "delivered", resp.DeliveryStatus)

		stored, err := messages.GetByID(context.Background(), msg.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.DeliveryStatusDelivered, stored.DeliveryStatus)
		require.NotNil(t, stored.ProviderStatusRaw)
		assert.Equal(t, `{"SmsStatus":"delivered"}`, *stored.ProviderStatusRaw)
	})

	t.Run("failure receipt applies", func(t *testing.T) {
		t.Parallel()

		messages := newFakeMessageStore()
		msg := sentMessage(t, messages, "prov-2")
		handler := NewCallbackHandler(messages, nil)

		rec := postCallback(t, handler, DeliveryCallbackRequest{
			ProviderMessageID: "prov-2",
			Status:            "undelivered",
		})

		require.Equal(t, http.StatusOK, rec.Code)
		stored, err := messages.GetByID(context.Background(), msg.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.DeliveryStatusUndelivered, stored.DeliveryStatus)
	})

	t.Run("duplicate receipt conflicts", func(t *testing.T) {
		t.Parallel()

		messages := newFakeMessageStore()
		msg := sentMessage(t, messages, "prov-3")
		msg.DeliveryStatus = domain.DeliveryStatusDelivered
		messages.messages[msg.ID].DeliveryStatus = domain.DeliveryStatusDelivered
		handler := NewCallbackHandler(messages, nil)

		// A replayed "delivered" receipt would be delivered -> delivered,
		// which the transition table has no edge for.
		rec := postCallback(t, handler, DeliveryCallbackRequest{
			ProviderMessageID: "prov-3",
			Status:            "delivered",
		})
		assert.Equal(t, http.StatusConflict, rec.Code)

		// So would walking a settled message back to failed.
		rec = postCallback(t, handler, DeliveryCallbackRequest{
			ProviderMessageID: "prov-3",
			Status:            "failed",
		})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("unknown provider message id", func(t *testing.T) {
		t.Parallel()

		handler := NewCallbackHandler(newFakeMessageStore(), nil)
		rec := postCallback(t, handler, DeliveryCallbackRequest{
			ProviderMessageID: "prov-missing",
			Status:            "delivered",
		})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("unknown status string", func(t *testing.T) {
		t.Parallel()

		messages := newFakeMessageStore()
		sentMessage(t, messages, "prov-4")
		handler := NewCallbackHandler(messages, nil)

		// Providers only report outcomes; intermediate states must not
		// be settable from outside.
		rec := postCallback(t, handler, DeliveryCallbackRequest{
			ProviderMessageID: "prov-4",
			Status:            "sending",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing fields", func(t *testing.T) {
		t.Parallel()

		handler := NewCallbackHandler(newFakeMessageStore(), nil)
		rec := postCallback(t, handler, DeliveryCallbackRequest{Status: "delivered"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		t.Parallel()

		handler := NewCallbackHandler(newFakeMessageStore(), nil)
		rec := postCallback(t, handler, `{"provider_message_id":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestRouter(t *testing.T) {
	t.Parallel()

	messages := newFakeMessageStore()
	sentMessage(t, messages, "prov-5")
	router := NewRouter(NewCallbackHandler(messages, nil))

	server := httptest.NewServer(router)
	defer server.Close()

	t.Run("healthz", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/healthz")
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("metrics", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/metrics")
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("delivery callback", func(t *testing.T) {
		body := bytes.NewReader([]byte(`{"provider_message_id":"prov-5","status":"delivered"}`))
		resp, err := http.Post(server.URL+"/callbacks/delivery", "application/json", body)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}
