package server

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"dronecoord/internal/app"
	"dronecoord/internal/domain"
)

var (
	// proposalsTotal counts proposals handed out.
	// Labels: mode (suggest, urgent), result (token, absent)
	proposalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dronecoord",
		Subsystem: "api",
		Name:      "proposals_total",
		Help:      "Proposals returned by suggest and urgent",
	}, []string{"mode", "result"})

	// writeBacksTotal counts confirm write-backs.
	// Labels: result (applied, failed, rejected)
	writeBacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dronecoord",
		Subsystem: "api",
		Name:      "write_backs_total",
		Help:      "Confirm attempts by result",
	}, []string{"result"})

	statusUpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dronecoord",
		Subsystem: "api",
		Name:      "status_updates_total",
		Help:      "Pilot and drone status updates by result",
	}, []string{"kind", "result"})

	// conflictsCurrent holds the conflict counts of the last detection pass.
	conflictsCurrent = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "dronecoord",
		Subsystem: "api",
		Name:      "conflicts",
		Help:      "Conflicts found by the most recent detection, by kind",
	}, []string{"kind"})

	webhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dronecoord",
		Subsystem: "webhook",
		Name:      "deliveries_total",
		Help:      "Webhook deliveries by result",
	}, []string{"result"})
)

func observeProposal(t app.Ticket) {
	result := "token"
	if t.Token == "" {
		result = "absent"
	}
	proposalsTotal.WithLabelValues(string(t.Mode), result).Inc()
}

func observeWriteBack(err error) {
	switch {
	case err == nil:
		writeBacksTotal.WithLabelValues("applied").Inc()
	case errors.Is(err, app.ErrWriteBack):
		writeBacksTotal.WithLabelValues("failed").Inc()
	default:
		writeBacksTotal.WithLabelValues("rejected").Inc()
	}
}

func observeStatusUpdate(kind domain.ResourceKind, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	statusUpdatesTotal.WithLabelValues(string(kind), result).Inc()
}

func observeConflicts(r domain.ConflictReport) {
	counts := make(map[domain.ConflictKind]int, len(domain.ConflictKinds))
	for _, c := range r.Conflicts {
		counts[c.Kind]++
	}
	for _, kind := range domain.ConflictKinds {
		conflictsCurrent.WithLabelValues(string(kind)).Set(float64(counts[kind]))
	}
}
