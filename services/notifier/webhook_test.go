package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pavitra93/go-multi-tenant-pos/shared/events"
	"github.com/pavitra93/go-multi-tenant-pos/shared/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvent() events.SessionEvent {
	return events.SessionEvent{
		ID:            uuid.New().String(),
		Type:          events.EventLoginConflict,
		TenantID:      uuid.New(),
		TenantSlug:    "my-cafe",
		PrincipalID:   uuid.New(),
		PrincipalName: "Budi",
		OccurredAt:    time.Now().UTC(),
	}
}

func TestDeliverPostsEvent(t *testing.T) {
	event := testEvent()
	var got map[string]interface{}
	var tenantHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantHeader = r.Header.Get("X-Tenant-ID")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := NewWebhookClient(srv.URL)
	require.NoError(t, client.Deliver(context.Background(), event))

	assert.Equal(t, event.TenantID.String(), tenantHeader)
	assert.Equal(t, string(events.EventLoginConflict), got["event_type"])
	assert.EqualValues(t, 1, client.GetStatus()["delivered"])
}

func TestDeliverDropsRejectedEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	client := NewWebhookClient(srv.URL)
	for i := 0; i < 6; i++ {
		assert.NoError(t, client.Deliver(context.Background(), testEvent()))
	}
	assert.EqualValues(t, 6, client.GetStatus()["dropped"])
	assert.Equal(t, utils.StateClosed, client.GetStatus()["circuit_state"])
}

func TestDeliverReturnsServerErrorsAndOpensCircuit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewWebhookClient(srv.URL)
	for i := 0; i < 5; i++ {
		assert.Error(t, client.Deliver(context.Background(), testEvent()))
	}
	assert.Equal(t, utils.StateOpen, client.GetStatus()["circuit_state"])

	err := client.Deliver(context.Background(), testEvent())
	assert.ErrorIs(t, err, utils.ErrCircuitOpen)
	assert.EqualValues(t, 5, calls.Load())
}
