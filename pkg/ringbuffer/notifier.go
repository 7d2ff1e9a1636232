package ringbuffer

// notifier wakes up a single waiter.
// Signals sent while nobody is waiting are coalesced into one.
type notifier chan struct{}

func newNotifier() notifier {
	return make(notifier, 1)
}

func (n notifier) signal() {
	select {
	case n <- struct{}{}:
	default:
	}
}

func (n notifier) wait() {
	<-n
}
