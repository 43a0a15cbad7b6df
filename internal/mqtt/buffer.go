package mqtt

// outboxMsg is a message held back while the broker is unreachable.
type outboxMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// outbox queues messages for replay after a reconnect. A retained message
// supersedes an older retained one on the same topic, since the broker
// would only keep the newest anyway. When full the oldest entry goes.
// Callers synchronize.
type outbox struct {
	limit int
	msgs  []outboxMsg
	lost  int
}

func newOutbox(limit int) *outbox {
	return &outbox{limit: limit}
}

func (o *outbox) add(m outboxMsg) {
	if m.retained {
		for i := range o.msgs {
			if o.msgs[i].retained && o.msgs[i].topic == m.topic {
				o.msgs = append(o.msgs[:i], o.msgs[i+1:]...)
				break
			}
		}
	}
	if len(o.msgs) >= o.limit {
		if o.lost == 0 {
			log.WithField("limit", o.limit).Warn("offline queue full, dropping oldest")
		}
		o.lost++
		o.msgs = o.msgs[1:]
	}
	o.msgs = append(o.msgs, m)
}

// take empties the outbox, returning its messages oldest first and how
// many were dropped for space.
func (o *outbox) take() ([]outboxMsg, int) {
	msgs, lost := o.msgs, o.lost
	o.msgs, o.lost = nil, 0
	return msgs, lost
}

func (o *outbox) pending() int {
	return len(o.msgs)
}
