package ratex_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/chatdesk/courier/pkg/ratex"
)

func TestFixedWindowAdmitsUpToCeilingWithoutBlocking(t *testing.T) {
	l := ratex.NewFixedWindow(50, time.Hour)
	l.Reset()

	start := time.Now()
	for i := 0; i < 50; i++ {
		if err := l.Admit(context.Background()); err != nil {
			t.Fatalf("admit %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("admits within budget should not block, took %v", elapsed)
	}
}

func TestFixedWindowBlocksFiftyFirstAdmit(t *testing.T) {
	l := ratex.NewFixedWindow(50, time.Hour)
	l.Reset()

	for i := 0; i < 50; i++ {
		if err := l.Admit(context.Background()); err != nil {
			t.Fatalf("admit %d: %v", i, err)
		}
	}

	// The 51st admit must wait for the next window, not get through and
	// not be rejected.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := l.Admit(ctx); err == nil {
		t.Fatal("51st admit got through inside the same window")
	}
}

func TestFixedWindowBlocksUntilNextWindow(t *testing.T) {
	l := ratex.NewFixedWindow(2, 150*time.Millisecond)

	// 6 admits with a budget of 2 per window need at least 3 windows.
	start := time.Now()
	for i := 0; i < 6; i++ {
		if err := l.Admit(context.Background()); err != nil {
			t.Fatalf("admit %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Fatalf("expected over-budget admits to wait for the next window, took %v", elapsed)
	}
}

func TestFixedWindowNeverRejects(t *testing.T) {
	l := ratex.NewFixedWindow(3, 50*time.Millisecond)

	var wg sync.WaitGroup
	errs := make(chan error, 30)
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- l.Admit(context.Background())
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("admit rejected: %v", err)
		}
	}
}

func TestFixedWindowAdmitHonorsContextCancellation(t *testing.T) {
	l := ratex.NewFixedWindow(1, time.Hour)
	l.Reset()

	if err := l.Admit(context.Background()); err != nil {
		t.Fatalf("first admit: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := l.Admit(ctx)
	if err == nil {
		t.Fatal("expected cancelled admit to return an error")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("cancelled admit took too long: %v", elapsed)
	}
}

func TestFixedWindowResetClearsBudget(t *testing.T) {
	l := ratex.NewFixedWindow(1, time.Hour)
	l.Reset()

	if err := l.Admit(context.Background()); err != nil {
		t.Fatalf("first admit: %v", err)
	}
	l.Reset()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := l.Admit(ctx); err != nil {
		t.Fatalf("admit after reset should not block: %v", err)
	}
}
