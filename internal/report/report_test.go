package report

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/callout/internal/observe"
	"github.com/MrWong99/callout/internal/resilience"
	"github.com/MrWong99/callout/pkg/announce"
)

// memSink records completions and can be told to fail or stall.
type memSink struct {
	name  string
	err   error
	delay time.Duration

	mu  sync.Mutex
	got []announce.Completion
}

func (s *memSink) Name() string { return s.name }

func (s *memSink) Send(ctx context.Context, c announce.Completion) error {
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.delay):
		}
	}
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	s.got = append(s.got, c)
	s.mu.Unlock()
	return nil
}

func (s *memSink) received() []announce.Completion {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]announce.Completion(nil), s.got...)
}

func completion(id string) announce.Completion {
	return announce.Completion{AnnouncementID: id, RequestID: "req-" + id, Method: announce.MethodTone, Status: announce.StatusCompleted}
}

func TestReporter_FanOutInOrder(t *testing.T) {
	t.Parallel()

	a, b := &memSink{name: "a"}, &memSink{name: "b"}
	r := New(WithSink(a), WithSink(b))

	for _, id := range []string{"1", "2", "3", "4"} {
		r.Report(context.Background(), completion(id))
	}
	if err := r.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	for _, s := range []*memSink{a, b} {
		got := s.received()
		if len(got) != 4 {
			t.Fatalf("sink %s got %d completions, want 4", s.name, len(got))
		}
		for i, c := range got {
			if want := string(rune('1' + i)); c.AnnouncementID != want {
				t.Errorf("sink %s [%d] = %s, want %s", s.name, i, c.AnnouncementID, want)
			}
		}
	}
}

func TestReporter_ReportNeverBlocks(t *testing.T) {
	t.Parallel()

	slow := &memSink{name: "slow", delay: time.Second}
	r := New(WithSink(slow), WithBuffer(1), WithSendTimeout(10*time.Millisecond))
	t.Cleanup(func() { _ = r.Close(context.Background()) })

	start := time.Now()
	for i := range 50 {
		r.Report(context.Background(), completion(string(rune('a'+i))))
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("Report blocked for %v", elapsed)
	}
}

func TestReporter_FailuresCounted(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}

	bad := &memSink{name: "socket", err: errors.New("not connected")}
	good := &memSink{name: "file"}
	r := New(WithSink(bad), WithSink(good), WithMetrics(m))
	r.Report(context.Background(), completion("1"))
	r.Report(context.Background(), completion("2"))
	_ = r.Close(context.Background())

	if len(good.received()) != 2 {
		t.Errorf("healthy sink got %d, want 2", len(good.received()))
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "callout.report.failures" {
				continue
			}
			for _, dp := range met.Data.(metricdata.Sum[int64]).DataPoints {
				total += dp.Value
			}
		}
	}
	if total != 2 {
		t.Errorf("report failures = %d, want 2", total)
	}
}

func TestReporter_BreakerFailsFast(t *testing.T) {
	t.Parallel()

	var calls int
	var mu sync.Mutex
	sink := SinkFunc{SinkName: "socket", Fn: func(context.Context, announce.Completion) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return errors.New("down")
	}}
	r := New(WithSink(sink), WithBreaker(resilience.CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour}))
	for i := range 5 {
		r.Report(context.Background(), completion(string(rune('a'+i))))
	}
	_ = r.Close(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if calls != 2 {
		t.Errorf("sink called %d times, want 2 before the breaker opened", calls)
	}
}

func TestReporter_ReportAfterClose(t *testing.T) {
	t.Parallel()

	s := &memSink{name: "a"}
	r := New(WithSink(s))
	_ = r.Close(context.Background())
	_ = r.Close(context.Background())
	r.Report(context.Background(), completion("late"))
	if len(s.received()) != 0 {
		t.Error("completion delivered after Close")
	}
}

func TestFileSink(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "deliveries.jsonl")
	fs := NewFileSink(path)
	for _, id := range []string{"1", "2"} {
		if err := fs.Send(context.Background(), completion(id)); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var ids []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var c announce.Completion
		if err := json.Unmarshal(sc.Bytes(), &c); err != nil {
			t.Fatalf("line %q: %v", sc.Text(), err)
		}
		ids = append(ids, c.AnnouncementID)
	}
	if len(ids) != 2 || ids[0] != "1" || ids[1] != "2" {
		t.Errorf("ids = %v, want [1 2]", ids)
	}
}
