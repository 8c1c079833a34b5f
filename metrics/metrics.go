package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels shared by the counters below.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeRejected = "rejected"
	OutcomeCached   = "cached"
	OutcomeSkipped  = "skipped"
)

var (
	ChatTurns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iacfarm_chat_turns_total",
			Help: "Chat turns by outcome.",
		},
		[]string{"outcome"},
	)

	SpeechRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iacfarm_speech_requests_total",
			Help: "Speak requests by outcome (cached, success, failure).",
		},
		[]string{"outcome"},
	)

	DiagnosisSaves = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iacfarm_diagnosis_saves_total",
			Help: "Background diagnosis persistence attempts by outcome.",
		},
		[]string{"outcome"},
	)

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "iacfarm_active_sessions",
			Help: "Number of connected websocket sessions.",
		},
	)
)

func init() {
	prometheus.MustRegister(ChatTurns)
	prometheus.MustRegister(SpeechRequests)
	prometheus.MustRegister(DiagnosisSaves)
	prometheus.MustRegister(ActiveSessions)
}
