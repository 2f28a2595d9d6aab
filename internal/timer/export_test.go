package timer

func (t *Timer) Remaining() int {
	return int(t.remaining.Load())
}

func (t *Timer) Expired() bool {
	return t.state.Load() == stateExpired
}

func (t *Timer) Done() <-chan struct{} {
	return t.done
}
