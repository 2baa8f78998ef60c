package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/rapidroute/cashbox/internal/metrics"
)

type fakeDB struct{ err error }

func (f fakeDB) Ping(context.Context) error { return f.err }

type healthBody struct {
	Status map[string]string `json:"status"`
}

func getHealth(t *testing.T, s *Server) (int, healthBody) {
	t.Helper()
	resp, err := s.App().Test(httptest.NewRequest(fiber.MethodGet, "/healthz", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	var body healthBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	return resp.StatusCode, body
}

func TestHealthOK(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cache.Close()

	code, body := getHealth(t, New(Deps{DB: fakeDB{}, Cache: cache}))
	if code != fiber.StatusOK {
		t.Fatalf("expected 200, got %d (%v)", code, body)
	}
	if body.Status["postgres"] != "ok" || body.Status["redis"] != "ok" {
		t.Fatalf("unexpected status %v", body.Status)
	}
}

func TestHealthWithoutRedis(t *testing.T) {
	code, body := getHealth(t, New(Deps{DB: fakeDB{}}))
	if code != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if body.Status["redis"] != "disabled" {
		t.Fatalf("expected redis disabled, got %q", body.Status["redis"])
	}
}

func TestHealthReportsDatabaseFailure(t *testing.T) {
	code, body := getHealth(t, New(Deps{DB: fakeDB{err: errors.New("connection refused")}}))
	if code != fiber.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", code)
	}
	if body.Status["postgres"] != "connection refused" {
		t.Fatalf("unexpected postgres status %q", body.Status["postgres"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewLedgerMetrics(reg)
	m.AddEntries("income", 2)

	resp, err := New(Deps{DB: fakeDB{}, Gatherer: reg}).App().Test(httptest.NewRequest(fiber.MethodGet, "/metrics", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(raw), `cashbox_entries_written_total{type="income"} 2`) {
		t.Fatalf("expected entries counter in output:\n%s", raw)
	}
}
