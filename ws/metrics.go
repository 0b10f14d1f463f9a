package ws

import "github.com/prometheus/client_golang/prometheus"

var (
	onlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "pairchat",
		Name:      "online_users",
		Help:      "Number of identities holding a live websocket connection.",
	})
	rosterBroadcasts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "pairchat",
		Name:      "roster_broadcasts_total",
		Help:      "Roster broadcasts triggered by connects and disconnects.",
	})
	fanoutTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pairchat",
		Name:      "fanout_total",
		Help:      "Message pushes by result.",
	}, []string{"result"})
)

const (
	fanoutDelivered = "delivered"
	fanoutOffline   = "offline"
	fanoutDropped   = "dropped"
	fanoutMalformed = "malformed"
)

func init() {
	prometheus.MustRegister(onlineUsers, rosterBroadcasts, fanoutTotal)
}
