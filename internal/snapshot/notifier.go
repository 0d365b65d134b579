package snapshot

import "sync"

// ChanNotifier coalesces change notifications: any number of Notify calls
// between two reads of C result in a single pending signal.
type ChanNotifier struct {
	mu     *sync.Mutex
	ch     chan struct{}
	closed bool
}

func NewNotifier() *ChanNotifier {
	return &ChanNotifier{
		mu: &sync.Mutex{},
		ch: make(chan struct{}, 1),
	}
}

func (n *ChanNotifier) Notify() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return
	}
	select {
	case n.ch <- struct{}{}:
	default:
		// already has pending signal
	}
}

func (n *ChanNotifier) C() <-chan struct{} {
	return n.ch
}

func (n *ChanNotifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.closed {
		n.closed = true
		close(n.ch)
	}
}
