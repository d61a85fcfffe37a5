package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/wfs-server/internal/invalidation"
)

type fakeBumper struct {
	failFirst atomic.Bool
	mu        sync.Mutex
	bumped    []string
}

func (f *fakeBumper) Bump(_ context.Context, model string) (int64, error) {
	if f.failFirst.Load() {
		f.failFirst.Store(false)
		return 0, errors.New("boom")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bumped = append(f.bumped, model)
	return int64(len(f.bumped)), nil
}

type sess struct {
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *sess) Claims() map[string][]int32 { return nil }
func (s *sess) MemberID() string           { return "" }
func (s *sess) GenerationID() int32        { return 0 }
func (s *sess) MarkMessage(m *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	s.marked = append(s.marked, m.Offset)
	s.mu.Unlock()
}
func (s *sess) ResetOffset(_ string, _ int32, _ int64, _ string) {}
func (s *sess) MarkOffset(_ string, _ int32, _ int64, _ string)  {}
func (s *sess) Context() context.Context                         { return s.ctx }
func (s *sess) Errors() <-chan error                             { return nil }
func (s *sess) Commit()                                          {}

type claim struct {
	part int32
	msgs chan *sarama.ConsumerMessage
}

func (c *claim) Topic() string                            { return "wfs-data-changes" }
func (c *claim) Partition() int32                         { return c.part }
func (c *claim) InitialOffset() int64                     { return 0 }
func (c *claim) HighWaterMarkOffset() int64               { return 0 }
func (c *claim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

func eventBytes(model string) []byte {
	ev := invalidation.Event{
		Version: 1, Op: "update", Model: model, TS: time.Now().UTC(),
		BBox: &invalidation.BBox{X1: 4, Y1: 52, X2: 5, Y2: 53, SRID: "EPSG:4326"},
	}
	b, _ := json.Marshal(ev)
	return b
}

func newConsumerForTest(b Bumper) *Consumer {
	cfg := Config{Brokers: []string{"x"}, Topic: "wfs-data-changes", GroupID: "g"}
	return New(cfg, slog.Default(), b)
}

func TestSinglePartition_OrderAndCommitAfterWork(t *testing.T) {
	fb := &fakeBumper{}
	c := newConsumerForTest(fb)

	g := &groupHandler{process: c.ProcessOne}
	s := &sess{ctx: t.Context()}
	ch := make(chan *sarama.ConsumerMessage, 2)
	cl := &claim{part: 0, msgs: ch}

	ch <- &sarama.ConsumerMessage{Topic: "wfs-data-changes", Partition: 0, Offset: 10, Value: eventBytes("restaurant")}
	ch <- &sarama.ConsumerMessage{Topic: "wfs-data-changes", Partition: 0, Offset: 11, Value: eventBytes("city")}
	close(ch)

	if err := g.ConsumeClaim(s, cl); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}
	if len(s.marked) != 2 || s.marked[0] != 10 || s.marked[1] != 11 {
		t.Fatalf("marked offsets=%v want [10 11]", s.marked)
	}
	if len(fb.bumped) != 2 || fb.bumped[0] != "restaurant" || fb.bumped[1] != "city" {
		t.Fatalf("bumped=%v", fb.bumped)
	}
}

func TestRetry_CommitOnceAfterSuccess(t *testing.T) {
	fb := &fakeBumper{}
	fb.failFirst.Store(true)
	c := newConsumerForTest(fb)
	ctx := context.Background()

	msg := &sarama.ConsumerMessage{Topic: "wfs-data-changes", Partition: 0, Offset: 5, Value: eventBytes("restaurant")}
	if err := c.ProcessOne(ctx, msg); err == nil {
		t.Fatalf("expected error on first attempt")
	}

	s := &sess{ctx: ctx}
	g := &groupHandler{process: c.ProcessOne}
	ch := make(chan *sarama.ConsumerMessage, 1)
	ch <- msg
	close(ch)
	if err := g.ConsumeClaim(s, &claim{part: 0, msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim second attempt: %v", err)
	}
	if len(s.marked) != 1 || s.marked[0] != 5 {
		t.Fatalf("offset was not marked after success; marked=%v", s.marked)
	}
}

func TestMalformedEvents_AreSkippedAndMarked(t *testing.T) {
	fb := &fakeBumper{}
	c := newConsumerForTest(fb)
	g := &groupHandler{process: c.ProcessOne}
	s := &sess{ctx: t.Context()}

	invalid, _ := json.Marshal(invalidation.Event{Version: 1, Op: "merge", Model: "restaurant", TS: time.Now()})
	ch := make(chan *sarama.ConsumerMessage, 3)
	ch <- &sarama.ConsumerMessage{Offset: 1, Value: []byte("{not json")}
	ch <- &sarama.ConsumerMessage{Offset: 2, Value: invalid}
	ch <- &sarama.ConsumerMessage{Offset: 3, Value: eventBytes("restaurant")}
	close(ch)

	if err := g.ConsumeClaim(s, &claim{msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}
	if len(s.marked) != 3 {
		t.Fatalf("marked=%v want all three", s.marked)
	}
	if len(fb.bumped) != 1 {
		t.Fatalf("bumped=%v want one", fb.bumped)
	}
}

func TestMultiPartition_Parallel_NoCrossOrdering(t *testing.T) {
	fb := &fakeBumper{}
	c := newConsumerForTest(fb)
	g := &groupHandler{process: c.ProcessOne}
	s := &sess{ctx: t.Context()}

	p0 := make(chan *sarama.ConsumerMessage, 2)
	p1 := make(chan *sarama.ConsumerMessage, 2)
	p0 <- &sarama.ConsumerMessage{Topic: "t", Partition: 0, Offset: 1, Value: eventBytes("restaurant")}
	p0 <- &sarama.ConsumerMessage{Topic: "t", Partition: 0, Offset: 2, Value: eventBytes("restaurant")}
	p1 <- &sarama.ConsumerMessage{Topic: "t", Partition: 1, Offset: 1, Value: eventBytes("city")}
	p1 <- &sarama.ConsumerMessage{Topic: "t", Partition: 1, Offset: 2, Value: eventBytes("city")}
	close(p0)
	close(p1)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = g.ConsumeClaim(s, &claim{part: 0, msgs: p0}) }()
	go func() { defer wg.Done(); _ = g.ConsumeClaim(s, &claim{part: 1, msgs: p1}) }()
	wg.Wait()

	if len(s.marked) != 4 {
		t.Fatalf("expected 4 marks total; got %v", s.marked)
	}
}

func TestStart_RequiresCache(t *testing.T) {
	if err := New(Config{}, nil, nil).Start(context.Background()); err == nil {
		t.Fatalf("expected an error without a count cache")
	}
}

func TestRedelivery_BumpsOnce(t *testing.T) {
	fb := &fakeBumper{}
	c := newConsumerForTest(fb)
	ctx := context.Background()

	msg := &sarama.ConsumerMessage{Topic: "wfs-data-changes", Partition: 2, Offset: 40, Value: eventBytes("restaurant")}
	for i := 0; i < 3; i++ {
		if err := c.ProcessOne(ctx, msg); err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
	older := &sarama.ConsumerMessage{Topic: "wfs-data-changes", Partition: 2, Offset: 39, Value: eventBytes("restaurant")}
	if err := c.ProcessOne(ctx, older); err != nil {
		t.Fatal(err)
	}
	other := &sarama.ConsumerMessage{Topic: "wfs-data-changes", Partition: 3, Offset: 1, Value: eventBytes("city")}
	if err := c.ProcessOne(ctx, other); err != nil {
		t.Fatal(err)
	}
	if len(fb.bumped) != 2 || fb.bumped[0] != "restaurant" || fb.bumped[1] != "city" {
		t.Fatalf("bumped=%v", fb.bumped)
	}
}
