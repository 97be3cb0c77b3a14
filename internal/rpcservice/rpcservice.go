// Package rpcservice holds the wire-level helpers the RPC/HTTP surfaces
// share: a fast JSON codec for Policy/Report payloads and request/child-host
// identifier generation (SPEC_FULL.md §2.1's domain-stack assignment of
// github.com/bytedance/sonic and github.com/google/uuid to this package).
// The gRPC transport itself is out of scope (spec.md §1); this package
// only carries what internal/rpcservice/httpdebug and internal/tree need
// to move a Policy/Report across a wire.
package rpcservice

import (
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"github.com/hpcgov/rtd/internal/policy"
	"github.com/hpcgov/rtd/internal/runtimesvc"
	"github.com/hpcgov/rtd/internal/stats"
)

// NewRequestID mints a request-scoped identifier for correlating one
// RPC/HTTP call across log lines.
func NewRequestID() string { return uuid.NewString() }

// ReportEnvelope is the JSON wire shape of runtimesvc.Report. LastErr is
// flattened to a plain string, since an `error` value doesn't round-trip
// through encoding/json on its own.
type ReportEnvelope struct {
	Policy  policy.Policy    `json:"policy"`
	Metrics []stats.Snapshot `json:"metrics"`
	LastErr string           `json:"last_error,omitempty"`
}

// EncodeReport converts a runtimesvc.Report into its wire envelope.
func EncodeReport(r runtimesvc.Report) ReportEnvelope {
	env := ReportEnvelope{Policy: r.Policy, Metrics: r.Metrics}
	if r.LastErr != nil {
		env.LastErr = r.LastErr.Error()
	}
	return env
}

// Marshal/Unmarshal wrap sonic's fast-path codec, matching the teacher's
// pkg/jsonutil's CONFIG_USE_SONIC build-tagged path.
func Marshal(v interface{}) ([]byte, error) { return sonic.ConfigFastest.Marshal(v) }

func Unmarshal(data []byte, v interface{}) error { return sonic.ConfigFastest.Unmarshal(data, v) }

// ChildHostRegistration is the response returned when a child host is
// registered over HTTP: a generated correlation id alongside the
// server-side timestamp SharedState.AddChildHost already produces.
type ChildHostRegistration struct {
	ID  string    `json:"id"`
	URL string    `json:"url"`
	At  time.Time `json:"at"`
}

// NewChildHostRegistration wraps a ChildHostTimestamp with a fresh id.
func NewChildHostRegistration(ts runtimesvc.ChildHostTimestamp) ChildHostRegistration {
	return ChildHostRegistration{ID: NewRequestID(), URL: ts.URL, At: ts.At}
}
