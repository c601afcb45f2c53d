package coord

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatcore_commands_total",
		Help: "Commands processed, by command and outcome.",
	}, []string{"command", "outcome"})

	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatcore_events_emitted_total",
		Help: "Events emitted to room subscribers, by kind.",
	}, []string{"kind"})

	subscribersDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatcore_subscribers_dropped_total",
		Help: "Subscriptions disconnected on queue overflow.",
	})
)

func observeCommand(command string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	commandsTotal.WithLabelValues(command, outcome).Inc()
}
