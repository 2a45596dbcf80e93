package server

import (
	"fmt"

	"github.com/VictoriaMetrics/metrics"
)

// request counters, labelled by command info
func countRequest(commandInfo string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`keel_requests_total{command=%q}`, commandInfo)).Inc()
}

func countError(class string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`keel_request_errors_total{class=%q}`, class)).Inc()
}

var (
	connectionsAccepted = metrics.NewCounter(`keel_connections_accepted_total`)
	connectionsDropped  = metrics.NewCounter(`keel_connections_dropped_total`)
)
