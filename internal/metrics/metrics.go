package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	WaitingUsers = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "runmatch_waiting_users", Help: "users currently waiting per distance",
	}, []string{"distance"})
	MatchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "runmatch_matches_total", Help: "total matches formed per distance",
	}, []string{"distance"})
	OpenStreams = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "runmatch_open_streams", Help: "event streams not yet closed",
	})
	DroppedEvents = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "runmatch_stream_events_dropped_total", Help: "events dropped because a stream buffer was full",
	})
	OrphansReclaimed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "runmatch_orphans_reclaimed_total", Help: "connected streams closed by the reconciliation sweep",
	})
	CollaboratorErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "runmatch_collaborator_errors_total", Help: "failed calls to the match service",
	}, []string{"call"})
	DecodeErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "runmatch_broker_decode_errors_total", Help: "broker messages dropped as malformed",
	})
)

func Init() {
	prometheus.MustRegister(
		WaitingUsers,
		MatchesTotal,
		OpenStreams,
		DroppedEvents,
		OrphansReclaimed,
		CollaboratorErrors,
		DecodeErrors,
	)
}
