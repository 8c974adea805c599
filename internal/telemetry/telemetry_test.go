package telemetry

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MarkoPoloResearchLab/creditwallet/pkg/ledger"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapOperationLoggerWritesFieldsAndCounts(test *testing.T) {
	test.Parallel()
	core, logs := observer.New(zapcore.InfoLevel)
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	operationLogger := NewZapOperationLogger(zap.New(core), metrics)

	operationLogger.LogOperation(context.Background(), ledger.OperationLog{
		Operation:     "add_credits",
		Status:        "ok",
		Amount:        ledger.Credits(40),
		ReferenceType: ledger.ReferencePayment,
		ReferenceID:   "order_1",
		BalanceAfter:  140,
	})
	operationLogger.LogOperation(context.Background(), ledger.OperationLog{
		Operation: "deduct_credits",
		Status:    "error",
		Amount:    ledger.Credits(500),
		Error:     ledger.ErrInsufficientCredits,
	})

	if logs.Len() != 2 {
		test.Fatalf("expected 2 log entries, got %d", logs.Len())
	}
	entries := logs.All()
	if entries[0].Message != "wallet operation" || entries[0].ContextMap()["reference_id"] != "order_1" {
		test.Fatalf("unexpected success entry: %+v", entries[0])
	}
	if entries[1].Level != zapcore.WarnLevel || entries[1].ContextMap()["error"] != ledger.ErrInsufficientCredits.Error() {
		test.Fatalf("unexpected failure entry: %+v", entries[1])
	}
	if value := counterValue(test, registry, "creditwallet_ledger_operations_total", map[string]string{"operation": "deduct_credits", "status": "error"}); value != 1 {
		test.Fatalf("expected one failed deduction, got %v", value)
	}
	if value := counterValue(test, registry, "creditwallet_credits_moved_total", map[string]string{"operation": "add_credits"}); value != 40 {
		test.Fatalf("expected 40 credits moved, got %v", value)
	}
	if value := counterValue(test, registry, "creditwallet_credits_moved_total", map[string]string{"operation": "deduct_credits"}); value != 0 {
		test.Fatalf("failed operations must not move credits, got %v", value)
	}
}

func TestNilMetricsAreIgnored(test *testing.T) {
	test.Parallel()
	var metrics *Metrics
	metrics.RecordSettlement("credited")
	metrics.RecordAPIKeyIssued()
	metrics.RecordOperation("add_credits", "ok", 1)
	NewZapOperationLogger(nil, nil).LogOperation(context.Background(), ledger.OperationLog{Operation: "add_credits", Error: errors.New("boom")})
}

func TestGinMiddlewareRecordsRouteTemplates(test *testing.T) {
	test.Parallel()
	gin.SetMode(gin.TestMode)
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	metrics.RecordSettlement("credited")
	metrics.RecordAPIKeyIssued()

	router := gin.New()
	router.Use(GinMiddleware(metrics))
	router.GET("/wallet-balance/:userId", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	for _, path := range []string{"/wallet-balance/u1", "/wallet-balance/u2", "/nowhere"} {
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, path, nil))
	}
	if value := counterValue(test, registry, "creditwallet_http_requests_total", map[string]string{"method": "GET", "route": "/wallet-balance/:userId", "status": "200"}); value != 2 {
		test.Fatalf("expected 2 templated requests, got %v", value)
	}
	if value := counterValue(test, registry, "creditwallet_http_requests_total", map[string]string{"route": unmatchedRoute, "status": "404"}); value != 1 {
		test.Fatalf("expected 1 unmatched request, got %v", value)
	}

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(recorder.Body)
	for _, expected := range []string{"creditwallet_payment_settlements_total{outcome=\"credited\"} 1", "creditwallet_api_keys_issued_total 1"} {
		if !strings.Contains(string(body), expected) {
			test.Fatalf("metrics output missing %q", expected)
		}
	}
}

func counterValue(test *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	test.Helper()
	families, err := registry.Gather()
	if err != nil {
		test.Fatalf("gather: %v", err)
	}
	total := 0.0
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			matched := 0
			for _, pair := range metric.GetLabel() {
				if expected, ok := labels[pair.GetName()]; ok && expected == pair.GetValue() {
					matched++
				}
			}
			if matched == len(labels) {
				total += metric.GetCounter().GetValue()
			}
		}
	}
	return total
}
