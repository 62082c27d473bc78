package memory

import (
	"context"
	"testing"
)

func TestMailboxDeliversInOrderAfterClose(t *testing.T) {
	m := NewMailbox[int]()

	// Push без получателя не блокирует
	for i := range 1000 {
		if !m.Push(i) {
			t.Fatalf("Push(%d) rejected", i)
		}
	}
	m.Close()

	if m.Push(-1) {
		t.Fatal("Push after Close accepted")
	}

	out := make(chan int)
	go m.Pump(context.Background(), out)

	want := 0
	for v := range out {
		if v != want {
			t.Fatalf("got %d, want %d", v, want)
		}
		want++
	}

	if want != 1000 {
		t.Fatalf("delivered %d items, want 1000", want)
	}
}

func TestMailboxPumpStopsOnCancel(t *testing.T) {
	m := NewMailbox[string]()
	m.Push("a")

	ctx, cancel := context.WithCancel(context.Background())

	out := make(chan string)
	go m.Pump(ctx, out)

	if v := <-out; v != "a" {
		t.Fatalf("got %q", v)
	}

	cancel()

	if _, ok := <-out; ok {
		t.Fatal("out not closed after cancel")
	}
}
