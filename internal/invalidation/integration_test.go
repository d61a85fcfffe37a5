package invalidation_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammed-shakir/wfs-server/internal/cache/countcache"
	"github.com/mohammed-shakir/wfs-server/internal/cache/redisstore"
	"github.com/mohammed-shakir/wfs-server/internal/core/observability"
	"github.com/mohammed-shakir/wfs-server/internal/invalidation"
	"github.com/mohammed-shakir/wfs-server/internal/invalidation/kafkaconsumer"
	"github.com/mohammed-shakir/wfs-server/internal/query"
	"github.com/mohammed-shakir/wfs-server/internal/schema/schematest"
)

func TestIntegration_Miniredis_EventRetiresCountsAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	observability.Init(reg, true)

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	ctx := context.Background()
	rc, err := redisstore.New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("redisstore: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	counts := countcache.New(nil, rc, time.Minute)

	m, _ := schematest.Registry(t).Get("restaurant")
	q := &query.Query{Model: m}
	counts.Set(ctx, q, 4)
	if n, ok := counts.Get(ctx, q); !ok || n != 4 {
		t.Fatalf("precondition: Get=%d,%v", n, ok)
	}

	cons := kafkaconsumer.New(kafkaconsumer.Config{Topic: "wfs-data-changes"}, nil, counts)
	ev := invalidation.Event{Version: 1, Op: "insert", Model: "restaurant", TS: time.Now().UTC(), FeatureID: 5}
	body, _ := json.Marshal(ev)
	msg := &sarama.ConsumerMessage{Topic: "t", Partition: 0, Offset: 1, Value: body}

	if err := cons.ProcessOne(ctx, msg); err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}
	if _, ok := counts.Get(ctx, q); ok {
		t.Fatalf("expected the cached count to be retired")
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP(rr, req)

	bodyStr := rr.Body.String()
	has := func(s string) {
		if !strings.Contains(bodyStr, s) {
			t.Fatalf("metrics missing %q; got:\n%s", s, bodyStr)
		}
	}
	has(`invalidation_events_total{model="restaurant",op="insert",status="ok"} 1`)
	has(`redis_operation_duration_seconds_count{op="incr",status="ok"}`)
	has(`wfs_count_cache_total{outcome="hit"}`)
}
