package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "soundmesh"

	opLabelName     = "op"
	resultLabelName = "result"
	statusLabelName = "status"
	reasonLabelName = "reason"
)

var (
	Sessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "number of registered sessions by status",
		}, []string{statusLabelName})

	RouteOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "route_ops_total",
			Help:      "track add/remove operations applied to receiver transports",
		}, []string{opLabelName, resultLabelName})

	Renegotiations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "renegotiations_total",
			Help:      "offers pushed to receivers after their forwarded track set changed",
		}, []string{resultLabelName})

	Cleanups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanups_total",
			Help:      "sessions torn down by the cleanup supervisor",
		}, []string{reasonLabelName})

	ActiveRelays = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_relays",
			Help:      "inbound audio tracks currently relayed",
		})
)

const (
	ResultOK    = "ok"
	ResultError = "error"
	OpAdd       = "add"
	OpRemove    = "remove"
)

// Register registers every collector with r.
func Register(r prometheus.Registerer) {
	r.MustRegister(Sessions, RouteOps, Renegotiations, Cleanups, ActiveRelays)
}
