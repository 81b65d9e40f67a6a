// Copyright (c) 2026 The wasmshim Authors
//
// SPDX-License-Identifier: Apache-2.0
//

// Package metrics holds the shim's Prometheus surface and the Stats RPC
// helper. Grounded on containerd-shim-v2/shim_metrics.go's
// rpcDurationsHistogram, narrowed to the one histogram this shim
// actually populates — the rest of the teacher's gauges (netdev,
// iostat, pod overhead) describe VM/hypervisor resource accounting
// that has no Wasm-shim equivalent.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "wasm_shim"

// RPCDuration records the wall-clock latency of each Task Service RPC,
// labeled by method name.
var RPCDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: namespace,
	Name:      "rpc_durations_histogram_milliseconds",
	Help:      "RPC latency distributions.",
	Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
}, []string{"action"})
