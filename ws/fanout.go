package ws

import (
	"github.com/golang/glog"

	"github.com/mqy/pairchat/model"
)

// Fanout pushes newly persisted messages to the recipient's live connection.
type Fanout struct {
	registry *Registry
}

func NewFanout(registry *Registry) *Fanout {
	return &Fanout{registry: registry}
}

// Deliver pushes msg to its receiver if the receiver is online. It reports whether the
// frame was queued. Delivery is best-effort: no retry, no queueing for offline users;
// the history fetch is authoritative.
func (f *Fanout) Deliver(msg *model.Message) bool {
	if msg == nil {
		fanoutTotal.WithLabelValues(fanoutMalformed).Inc()
		return false
	}
	m := msg.Normalize()
	if !m.Valid() {
		glog.Errorf("fanout: drop malformed message: %+v", m)
		fanoutTotal.WithLabelValues(fanoutMalformed).Inc()
		return false
	}

	conn, ok := f.registry.Lookup(m.ReceiverID)
	if !ok {
		glog.V(5).Infof("fanout: %s is offline, message %s from %s left to history",
			m.ReceiverID, m.ID, m.Peer(m.ReceiverID))
		fanoutTotal.WithLabelValues(fanoutOffline).Inc()
		return false
	}

	frame, err := model.EncodeEnvelope(model.TypeNewMessage, &m)
	if err != nil {
		glog.Errorf("fanout: encode message %s error: %v", m.ID, err)
		fanoutTotal.WithLabelValues(fanoutMalformed).Inc()
		return false
	}

	// The connection may have closed since the lookup; Send then drops the frame.
	if !conn.Send(frame) {
		glog.V(5).Infof("fanout: push of %s to %s dropped, sid: %s", m.ID, m.ReceiverID, conn.Sid())
		fanoutTotal.WithLabelValues(fanoutDropped).Inc()
		return false
	}
	fanoutTotal.WithLabelValues(fanoutDelivered).Inc()
	return true
}
