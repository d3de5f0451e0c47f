package push

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendBatchReturnsTicketsInOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req batchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := batchResponse{}
		for i := range req.Messages {
			if i == 1 {
				resp.Tickets = append(resp.Tickets, Ticket{Error: "DeviceNotRegistered", DeviceNotRegistered: true})
				continue
			}
			resp.Tickets = append(resp.Tickets, Ticket{OK: true})
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second)
	tickets, err := client.SendBatch(context.Background(), []Message{
		{Token: "tok-1", Payload: json.RawMessage(`{"title":"a"}`)},
		{Token: "tok-2", Payload: json.RawMessage(`{"title":"b"}`)},
		{Token: "tok-3", Payload: json.RawMessage(`{"title":"c"}`)},
	})
	require.NoError(t, err)
	require.Len(t, tickets, 3)
	assert.True(t, tickets[0].OK)
	assert.False(t, tickets[1].OK)
	assert.True(t, tickets[1].DeviceNotRegistered)
	assert.True(t, tickets[2].OK)
}

func TestSendBatchChunksAtCap(t *testing.T) {
	var calls int
	var sizes []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var req batchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		sizes = append(sizes, len(req.Messages))
		resp := batchResponse{Tickets: make([]Ticket, len(req.Messages))}
		for i := range resp.Tickets {
			resp.Tickets[i].OK = true
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	msgs := make([]Message, 150)
	for i := range msgs {
		msgs[i] = Message{Token: "tok", Payload: json.RawMessage(`{}`)}
	}

	client := NewClient(srv.URL, time.Second)
	tickets, err := client.SendBatch(context.Background(), msgs)
	require.NoError(t, err)
	assert.Len(t, tickets, 150)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []int{100, 50}, sizes)
}

func TestSendBatchRetriesTransientGatewayFailure(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(batchResponse{Tickets: []Ticket{{OK: true}}})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second)
	tickets, err := client.SendBatch(context.Background(), []Message{{Token: "tok"}})
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	assert.True(t, tickets[0].OK)
	assert.Equal(t, 2, calls)
}

func TestSendBatchGatewayErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second)
	tickets, err := client.SendBatch(context.Background(), []Message{{Token: "tok"}})
	assert.Error(t, err)
	assert.Nil(t, tickets)
}

func TestSendBatchTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 50*time.Millisecond)
	_, err := client.SendBatch(context.Background(), []Message{{Token: "tok"}})
	assert.Error(t, err)
}

func TestSendBatchTicketCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(batchResponse{Tickets: []Ticket{{OK: true}}})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second)
	_, err := client.SendBatch(context.Background(), []Message{{Token: "a"}, {Token: "b"}})
	assert.Error(t, err)
}
