package router

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bft-labs/walletbridge/pkg/protocol"
)

// Metrics are the router's prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	requests         *prometheus.CounterVec
	duplicates       prometheus.Counter
	approvalsPending prometheus.Gauge
	approvalsClosed  *prometheus.CounterVec
	ports            prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg when it
// is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "walletbridge_router_requests_total",
			Help: "Requests answered by the router, by method, class and outcome.",
		}, []string{"method", "class", "outcome"}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "walletbridge_router_duplicate_requests_total",
			Help: "Requests dropped because their id was already seen.",
		}),
		approvalsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "walletbridge_router_approvals_pending",
			Help: "Approval prompts awaiting a decision.",
		}),
		approvalsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "walletbridge_router_approvals_total",
			Help: "Approvals closed, by final state.",
		}, []string{"state"}),
		ports: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "walletbridge_router_ports",
			Help: "Relay channels currently attached.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.duplicates, m.approvalsPending, m.approvalsClosed, m.ports)
	}
	return m
}

func (m *Metrics) request(method string, class protocol.Class, err *protocol.RPCError) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = strconv.Itoa(err.Code)
	}
	// Unsupported method names are caller-controlled.
	if class == protocol.ClassUnsupported {
		method = "other"
	}
	m.requests.WithLabelValues(method, class.String(), outcome).Inc()
}

func (m *Metrics) duplicate() {
	if m != nil {
		m.duplicates.Inc()
	}
}

func (m *Metrics) approvalOpened() {
	if m != nil {
		m.approvalsPending.Inc()
	}
}

func (m *Metrics) approvalClosed(s ApprovalState) {
	if m != nil {
		m.approvalsPending.Dec()
		m.approvalsClosed.WithLabelValues(s.String()).Inc()
	}
}

func (m *Metrics) portAdded() {
	if m != nil {
		m.ports.Inc()
	}
}

func (m *Metrics) portRemoved() {
	if m != nil {
		m.ports.Dec()
	}
}
