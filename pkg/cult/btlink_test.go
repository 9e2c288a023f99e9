package cult

import (
	"testing"
	"time"
)

func newTestLink() *btLink {
	return &btLink{
		doneChan: make(chan struct{}),
		quit:     make(chan struct{}),
	}
}

func TestLinkReleaseAfterQuit(t *testing.T) {

	l := newTestLink()

	released := make(chan struct{})
	go func() {
		l.awaitRelease()
		close(released)
	}()

	close(l.quit)

	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("awaitRelease did not return after quit")
	}

	// A disconnect event arriving after the link has been closed must be a
	// no-op, not a panic
	l.release()
}

func TestLinkReleaseWithoutWaiter(t *testing.T) {

	l := newTestLink()

	// No peripheral is being held, release must not block
	done := make(chan struct{})
	go func() {
		l.release()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("release blocked without a waiter")
	}
}

func TestLinkReleaseUnblocksWaiter(t *testing.T) {

	l := newTestLink()

	released := make(chan struct{})
	go func() {
		l.awaitRelease()
		close(released)
	}()

	// The non-blocking send only succeeds once the waiter is parked in its
	// select, retry until it is
	deadline := time.After(time.Second)
	for {
		l.release()
		select {
		case <-released:
			return
		case <-deadline:
			t.Fatal("awaitRelease did not return after release")
		default:
			time.Sleep(time.Millisecond)
		}
	}
}
