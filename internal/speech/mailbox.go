package speech

// post queues fn for the mailbox goroutine without blocking. It reports
// false once the controller is closed.
func (c *Controller) post(fn func()) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.queue = append(c.queue, fn)
	c.mu.Unlock()
	c.signal()
	return true
}

// call runs fn on the mailbox goroutine and waits for its result
func (c *Controller) call(fn func() error) error {
	var err error
	done := make(chan struct{})
	if !c.post(func() {
		defer close(done)
		err = fn()
	}) {
		return ErrClosed
	}
	<-done
	return err
}

func (c *Controller) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// run drains the mailbox until the controller is closed and the queue is empty
func (c *Controller) run() {
	defer close(c.done)
	for {
		c.mu.Lock()
		for len(c.queue) == 0 && !c.closed {
			c.mu.Unlock()
			<-c.wake
			c.mu.Lock()
		}
		if len(c.queue) == 0 {
			c.mu.Unlock()
			return
		}
		batch := c.queue
		c.queue = nil
		c.mu.Unlock()

		for _, fn := range batch {
			fn()
		}
	}
}
