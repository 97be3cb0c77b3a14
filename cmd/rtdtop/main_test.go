package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchReportDecodesPayloadEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"retcode":0,"message":"ok","payload":{
			"policy":{"agent":"monitor","period_seconds":1,"params":null},
			"metrics":[{"name":"cpu-power W","count":3,"mean":12.5,"min":10,"max":15}]
		}}`))
	}))
	defer srv.Close()

	client := resty.New().SetBaseURL(srv.URL).SetTimeout(2 * time.Second)
	view, err := fetchReport(client)
	require.NoError(t, err)
	assert.Equal(t, "monitor", view.Policy.Agent)
	require.Len(t, view.Metrics, 1)
	assert.Equal(t, "cpu-power W", view.Metrics[0].Name)
	assert.InDelta(t, 12.5, view.Metrics[0].Mean, 0.001)
}

func TestFetchReportSurfacesHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := resty.New().SetBaseURL(srv.URL).SetTimeout(2 * time.Second)
	_, err := fetchReport(client)
	assert.Error(t, err)
}
