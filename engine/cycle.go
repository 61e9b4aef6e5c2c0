package engine

// Cycle advances every channel by one tick. It must be called
// [Config.TicksPerSecond] times per second.
func (e *Engine) Cycle() {
	for i := range e.chans {
		e.cycleChannel(&e.chans[i])
	}
}

func (e *Engine) cycleChannel(c *channel) {
	// Inbound PDUs are processed even while frozen.
	for range c.cfg.RxMaxMessagesPerWakeup {
		msg := e.tp.Recv(int(c.num))
		if msg == nil {
			break
		}
		e.recvMsg(c, msg)
	}
	if c.frozen {
		return
	}
	e.tickQueue(c, qRx)
	e.tickQueue(c, qTxW)
	e.tickQueue(c, qHold)
	budget := c.cfg.MaxOutgoingPerCycle
	if e.nakResponses(c, &budget) {
		e.newData(c, &budget)
	}
	e.servicePlayback(c)
}

// tickQueue runs the periodic processing of every transaction in q. Transactions
// may leave the queue while being ticked.
func (e *Engine) tickQueue(c *channel, q queueID) {
	l := &c.q[q]
	for i, ok := l.Front(); ok; {
		t := &e.txns[i]
		next, hasNext := l.Next(&e.links, i)
		switch q {
		case qRx:
			e.rxTick(c, t)
		case qTxW:
			e.txwTick(c, t)
		case qHold:
			e.holdTick(c, t)
		}
		e.checkAbort(t)
		i, ok = next, hasNext
	}
}

func (e *Engine) checkAbort(t *transaction) {
	if t.flags.has(flagAbort) {
		e.finish(t)
	}
}

// nakResponses services NAK retransmissions of waiting then active senders, one PDU
// per transaction per pass, for up to NakResponsesPerCycle passes. It returns false
// if the transport ran out of buffers.
func (e *Engine) nakResponses(c *channel, budget *int) bool {
	for range c.cfg.NakResponsesPerCycle {
		progress := false
		for _, q := range [...]queueID{qTxW, qTxA} {
			l := &c.q[q]
			for i, ok := l.Front(); ok; {
				if *budget <= 0 {
					return false
				}
				t := &e.txns[i]
				next, hasNext := l.Next(&e.links, i)
				sent, bufOK := e.txNakResponse(c, t)
				e.checkAbort(t)
				if !bufOK {
					return false
				}
				if sent {
					progress = true
					*budget--
				}
				i, ok = next, hasNext
			}
		}
		if !progress {
			break
		}
	}
	return true
}

// newData generates new file data for one sender at a time until the output budget
// is exhausted or no buffer is available. The transaction keeps its position and
// resumes next cycle.
func (e *Engine) newData(c *channel, budget *int) {
	for *budget > 0 {
		t := e.nextSender(c)
		if t == nil {
			return
		}
		sent, ok := e.txNewData(c, t)
		if t.flags.has(flagAbort) {
			e.finish(t)
			continue
		}
		if !ok {
			return
		}
		if sent {
			*budget--
		}
	}
}
