package httpdebug

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpcgov/rtd/internal/policy"
	"github.com/hpcgov/rtd/internal/runtimesvc"
	"github.com/hpcgov/rtd/internal/tree"
)

func TestHealthzReportsOKBeforeAnyError(t *testing.T) {
	state := runtimesvc.NewSharedState()
	router := New(state, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDebugPolicyReflectsSetPolicy(t *testing.T) {
	state := runtimesvc.NewSharedState()
	_, err := state.SetPolicy(policy.Policy{Agent: policy.AgentMonitor, PeriodSeconds: 1})
	require.NoError(t, err)

	router := New(state, nil)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/debug/policy", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "monitor")
}

func TestApplyPolicyViaV1Endpoint(t *testing.T) {
	state := runtimesvc.NewSharedState()
	router := New(state, nil)

	body, err := json.Marshal(policy.Policy{Agent: policy.AgentMonitor, PeriodSeconds: 2})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/policy", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	got := state.GetReport().Policy
	assert.Equal(t, policy.AgentMonitor, got.Agent)
}

func TestApplyPolicyRejectsInvalidBody(t *testing.T) {
	state := runtimesvc.NewSharedState()
	router := New(state, nil)

	body, err := json.Marshal(policy.Policy{Agent: "not-a-real-agent", PeriodSeconds: 1})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/policy", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChildReportEndpointShapeMatchesTreeExpectations(t *testing.T) {
	state := runtimesvc.NewSharedState()
	router := New(state, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/report", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var report tree.ChildReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
}

func TestAddAndRemoveChildHostEndpoints(t *testing.T) {
	state := runtimesvc.NewSharedState()
	tr := tree.New(func() policy.Policy { return policy.Policy{} }, time.Second)
	defer tr.Close()
	router := New(state, tr)

	body, err := json.Marshal(map[string]string{"url": "http://child:9000"})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/children", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, state.ChildHosts(), "http://child:9000")

	w2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodDelete, "/v1/children", bytes.NewReader(body))
	req2.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w2, req2)
	assert.Equal(t, http.StatusOK, w2.Code)
	assert.NotContains(t, state.ChildHosts(), "http://child:9000")
}
