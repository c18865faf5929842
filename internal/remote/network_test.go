package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/fieldlog/internal/api"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/entities"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

type flakyPinger struct {
	failures atomic.Int32
	calls    atomic.Int32
}

func (p *flakyPinger) Ping(context.Context) error {
	p.calls.Add(1)
	if p.failures.Add(-1) >= 0 {
		return errors.New("connection refused")
	}
	return nil
}

func TestNetworkMonitorRetriesPing(t *testing.T) {
	pinger := &flakyPinger{}
	pinger.failures.Store(1)
	monitor := NewNetworkMonitor(NetworkMonitorConfig{Pinger: pinger, InitialBackoff: time.Millisecond})
	require.False(t, monitor.IsOnline())

	require.True(t, monitor.Check(context.Background()))
	require.True(t, monitor.IsOnline())
	require.Equal(t, int32(2), pinger.calls.Load())
}

func TestNetworkMonitorGoesOffline(t *testing.T) {
	pinger := &flakyPinger{}
	pinger.failures.Store(100)
	monitor := NewNetworkMonitor(NetworkMonitorConfig{Pinger: pinger, InitialBackoff: time.Millisecond})
	monitor.SetOnline(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates := monitor.Watch(ctx)
	require.True(t, <-updates)

	require.False(t, monitor.Check(ctx))
	require.False(t, <-updates)
	require.Equal(t, int32(pingAttempts), pinger.calls.Load())
}

func TestHTTPTransportRoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer device-token", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/healthz":
			w.WriteHeader(http.StatusOK)
		case "/api/queries/Trip":
			var request api.QueryRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&request))
			require.Equal(t, "SIH", request.Filter.ProgramLabel)
			raw, _ := entities.Marshal(remoteTrip(12))
			total := 1
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(api.QueryResponse{Data: []json.RawMessage{raw}, Total: &total})
		case "/api/mutations/validate":
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(api.ErrorResponse{Code: "records.validate.not_controlled", Message: "entity must be controlled"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	transport, err := NewHTTPTransport(HTTPTransportConfig{BaseURL: server.URL + "/", Token: "device-token"})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, transport.Ping(ctx))

	response, err := transport.Query(ctx, entities.TripEntityName, api.QueryRequest{Filter: entities.Filter{ProgramLabel: "SIH"}})
	require.NoError(t, err)
	require.Len(t, response.Data, 1)
	require.Equal(t, 1, *response.Total)

	_, err = transport.Mutate(ctx, api.OperationValidate, api.MutationRequest{EntityName: entities.TripEntityName})
	var serverErr *ServerError
	require.ErrorAs(t, err, &serverErr)
	require.Equal(t, http.StatusConflict, serverErr.Status)
	require.Equal(t, "records.validate.not_controlled", serverErr.Code)
}

func TestHTTPTransportUnreachableIsOffline(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	address := server.URL
	server.Close()

	transport, err := NewHTTPTransport(HTTPTransportConfig{BaseURL: address, Timeout: time.Second})
	require.NoError(t, err)
	require.ErrorIs(t, transport.Ping(context.Background()), ErrOffline)
}
