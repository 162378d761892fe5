/*
Package metrics provides Prometheus metrics collection and exposition
for the container supervisor daemon.

Metrics are defined and registered at package init, same as the
teacher's approach: global package-level variables, MustRegister in
init(), scraped over HTTP via promhttp.Handler(). The catalog below
replaces the teacher's cluster-orchestration metrics (nodes, services,
Raft, ingress, deployments) with the single-host domain this daemon
actually has: container lifecycle, the volume engine, and the RPC
front end.

# Metrics Catalog

Container metrics:

portod_containers_total{state}: Gauge, current container count by
state (Stopped/Starting/Running/Paused/Dead/Meta), refreshed by
Collector.

portod_container_start_duration_seconds: Histogram, time Start takes
handing off to the process supervisor.

portod_container_stop_duration_seconds: Histogram, time Stop takes,
including any SIGTERM->SIGKILL escalation wait.

portod_container_respawns_total: Counter, automatic respawns across
all containers. It is registered but nothing increments it, so it
stays at 0.

portod_container_exits_total{outcome}: Counter, exits by outcome. Only
"start_error" is recorded, by the RPC Start handler; the "ok",
"nonzero" and "signaled" outcomes are never incremented.

Volume metrics:

portod_volumes_total{backend}: Gauge, current volume count by backend
(plain/native/overlay/loop), refreshed by Collector.

portod_volume_build_duration_seconds{backend}: Histogram, time Build
takes per backend.

RPC metrics:

portod_rpc_requests_total{command,error}: Counter, requests by command
name and resulting error code (Success when no error).

portod_rpc_request_duration_seconds{command}: Histogram, dispatch to
response-encoded duration per command.

portod_sessions_active: Gauge, currently connected client sessions. It
is registered but never set, so it stays at 0.

# Usage

	timer := metrics.NewTimer()
	if err := container.Start(); err != nil {
		metrics.ContainerExitsTotal.WithLabelValues("start_error").Inc()
	}
	timer.ObserveDuration(metrics.ContainerStartDuration)

# Collector

Collector samples the container tree and volume holder on an interval
independent of the request-handling event loop, since gauge refreshes
aren't naturally triggered by individual requests the way counters and
histograms are.

# Health and Readiness

health.go carries the teacher's HealthChecker/HealthStatus/HTTP handler
shape unchanged; only the readiness check's critical-component names
were adapted from the teacher's cluster roles ("raft", "containerd",
"api") to this daemon's own subsystems ("tree", "eventloop", "store").
*/
package metrics
