//go:build !linux

// Copyright (c) 2026 The wasmshim Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package metrics

import (
	"fmt"

	cgroupstats "github.com/containerd/cgroups/stats/v1"
)

func ReadStats(namespace string) (*cgroupstats.Metrics, error) {
	return nil, fmt.Errorf("metrics: cgroup stats are only available on linux")
}
