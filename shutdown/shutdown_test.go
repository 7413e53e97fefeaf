package shutdown

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/vinayprograms/textcall/errors"
)

func TestShutdown_PhaseOrder(t *testing.T) {
	coord := New(time.Second, nil)

	var mu sync.Mutex
	var order []string
	record := func(name string) Func {
		return func(ctx context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		}
	}

	coord.Register("archive", PhaseClose, record("archive"))
	coord.Register("events", PhaseFlush, record("events"))
	coord.Register("tracer", PhaseClose, record("tracer"))

	if err := coord.Shutdown(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(order) != 3 || order[0] != "events" {
		t.Fatalf("flush phase must run first, got %v", order)
	}

	results := coord.Results()
	if len(results) != 3 || results[0].Name != "events" || results[0].Phase != PhaseFlush {
		t.Errorf("unexpected results %+v", results)
	}

	select {
	case <-coord.Done():
	default:
		t.Error("Done should be closed")
	}
}

func TestShutdown_ErrorsAreJoined(t *testing.T) {
	coord := New(time.Second, nil)
	boom := stderrors.New("disk gone")

	ran := false
	coord.Register("archive", PhaseClose, Close(func() error { return boom }))
	coord.Register("tracer", PhaseClose, func(ctx context.Context) error {
		ran = true
		return nil
	})

	err := coord.Shutdown()
	if !stderrors.Is(err, boom) {
		t.Fatalf("expected handler error in result, got %v", err)
	}
	if !ran {
		t.Error("other handlers must still run")
	}
	if again := coord.Shutdown(); again != err {
		t.Error("second Shutdown should return the first result")
	}
}

func TestShutdown_Timeout(t *testing.T) {
	coord := New(20*time.Millisecond, nil)

	coord.Register("slow", PhaseFlush, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	late := false
	coord.Register("late", PhaseClose, func(ctx context.Context) error {
		late = true
		return nil
	})

	err := coord.Shutdown()
	if !errors.Is(err, errors.ErrCodeTimeout) {
		t.Errorf("expected TIMEOUT, got %v", err)
	}
	if late {
		t.Error("phases after the deadline must not run")
	}
}

func TestHandleSignals_CanceledOnShutdown(t *testing.T) {
	coord := New(time.Second, nil)
	ctx := coord.HandleSignals(context.Background())

	coord.Shutdown()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context should be canceled after shutdown")
	}
}
