// Package httpdebug implements the side debug/health HTTP surface
// (SPEC_FULL.md §6.2): GET /healthz, GET /debug/policy, GET /debug/report
// for operator inspection, plus the POST /v1/policy and GET /v1/report
// endpoints a parent node's internal/tree forwarder talks to when this
// node acts as a child. Grounded on the teacher's cmd/access/server.go
// router setup: gin.New() (no default middleware) + gin.RecoveryWithWriter
// + cors.Default(), gin.H{...} response envelopes.
package httpdebug

import (
	"context"
	"net/http"
	"os"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/hpcgov/rtd/internal/policy"
	"github.com/hpcgov/rtd/internal/rpcservice"
	"github.com/hpcgov/rtd/internal/runtimesvc"
	"github.com/hpcgov/rtd/internal/tree"
)

// New builds the debug HTTP router. tr may be nil, in which case the
// POST/DELETE /v1/children endpoints are not registered; /v1/policy and
// /v1/report are served either way.
func New(state *runtimesvc.SharedState, tr *tree.Tree) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	gin.DefaultWriter = os.Stderr
	gin.DefaultErrorWriter = os.Stderr

	router := gin.New()
	router.Use(gin.RecoveryWithWriter(os.Stderr))
	router.Use(cors.Default())
	router.Use(requestIDMiddleware())

	router.GET("/healthz", healthzHandler(state))
	router.GET("/debug/policy", debugPolicyHandler(state))
	router.GET("/debug/report", debugReportHandler(state))

	router.POST("/v1/policy", applyPolicyHandler(state))
	router.GET("/v1/report", childReportHandler(state))

	if tr != nil {
		router.POST("/v1/children", addChildHostHandler(state, tr))
		router.DELETE("/v1/children", removeChildHostHandler(state, tr))
	}

	return router
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("request_id", rpcservice.NewRequestID())
		c.Next()
	}
}

// healthzHandler reports 200 until the loop has recorded an error, 503
// after (SPEC_FULL.md §6.2). A loop that has returned cleanly still
// reports 200.
func healthzHandler(state *runtimesvc.SharedState) gin.HandlerFunc {
	return func(c *gin.Context) {
		if state.Alive() {
			c.JSON(http.StatusOK, gin.H{"retcode": 0, "message": "ok", "payload": nil})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"retcode": 503, "message": "loop stopped", "payload": nil})
	}
}

func debugPolicyHandler(state *runtimesvc.SharedState) gin.HandlerFunc {
	return func(c *gin.Context) {
		report := state.GetReport()
		c.JSON(http.StatusOK, gin.H{"retcode": 0, "message": "ok", "payload": report.Policy})
	}
}

func debugReportHandler(state *runtimesvc.SharedState) gin.HandlerFunc {
	return func(c *gin.Context) {
		env := rpcservice.EncodeReport(state.GetReport())
		c.JSON(http.StatusOK, gin.H{"retcode": 0, "message": "ok", "payload": env})
	}
}

// applyPolicyHandler is the child-side endpoint a parent's tree
// forwarder POSTs to (spec §6.1 point 1).
func applyPolicyHandler(state *runtimesvc.SharedState) gin.HandlerFunc {
	return func(c *gin.Context) {
		var p policy.Policy
		if err := c.ShouldBindJSON(&p); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"retcode": 400, "message": err.Error(), "payload": nil})
			return
		}
		if _, err := state.SetPolicy(p); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"retcode": 400, "message": err.Error(), "payload": nil})
			return
		}
		c.JSON(http.StatusOK, gin.H{"retcode": 0, "message": "ok", "payload": nil})
	}
}

// childReportHandler is the child-side endpoint a parent's tree
// forwarder GETs from (spec §6.1 point 2): the minimal metric shape
// internal/tree.ChildReport expects.
func childReportHandler(state *runtimesvc.SharedState) gin.HandlerFunc {
	return func(c *gin.Context) {
		snapshot := state.GetReport()
		metrics := make([]tree.ChildMetric, 0, len(snapshot.Metrics))
		for _, m := range snapshot.Metrics {
			metrics = append(metrics, tree.ChildMetric{Name: m.Name, Count: m.Count, Mean: m.Mean})
		}
		c.JSON(http.StatusOK, tree.ChildReport{Metrics: metrics})
	}
}

type childHostRequest struct {
	URL string `json:"url" binding:"required"`
}

func addChildHostHandler(state *runtimesvc.SharedState, tr *tree.Tree) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req childHostRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"retcode": 400, "message": err.Error(), "payload": nil})
			return
		}
		ts := state.AddChildHost(req.URL)
		tr.AddChildHost(context.Background(), req.URL)
		c.JSON(http.StatusOK, gin.H{"retcode": 0, "message": "ok", "payload": rpcservice.NewChildHostRegistration(ts)})
	}
}

func removeChildHostHandler(state *runtimesvc.SharedState, tr *tree.Tree) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req childHostRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"retcode": 400, "message": err.Error(), "payload": nil})
			return
		}
		ts := state.RemoveChildHost(req.URL)
		tr.RemoveChildHost(req.URL)
		c.JSON(http.StatusOK, gin.H{"retcode": 0, "message": "ok", "payload": ts})
	}
}
