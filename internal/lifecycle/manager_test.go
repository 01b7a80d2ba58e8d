package lifecycle

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestManager_ClosesInReverseOrder(t *testing.T) {
	m := NewManager(zerolog.Nop())

	var order []string
	for _, name := range []string{"db", "cache", "server"} {
		name := name
		m.RegisterFunc(name, func() error {
			order = append(order, name)
			return nil
		})
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	want := []string{"server", "cache", "db"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("close order = %v, want %v", order, want)
		}
	}
}

func TestManager_JoinsErrorsAndKeepsClosing(t *testing.T) {
	m := NewManager(zerolog.Nop())
	errA := errors.New("a failed")
	errB := errors.New("b failed")
	closedC := false

	m.RegisterFunc("c", func() error { closedC = true; return nil })
	m.RegisterFunc("b", func() error { return errB })
	m.RegisterFunc("a", func() error { return errA })

	err := m.Close()
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Fatalf("Close err = %v, want both failures", err)
	}
	if !closedC {
		t.Error("resource after a failure was not closed")
	}
	if err := m.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}
}

func TestManager_RegisterAfterClose(t *testing.T) {
	m := NewManager(zerolog.Nop())
	_ = m.Close()

	closed := false
	m.RegisterFunc("late", func() error { closed = true; return nil })
	if !closed {
		t.Fatal("late registration should close immediately")
	}
}
