//go:build linux

// Copyright (c) 2026 The wasmshim Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package metrics

import (
	"fmt"

	"github.com/containerd/cgroups"
	cgroupstats "github.com/containerd/cgroups/stats/v1"

	"github.com/wasmshim/containerd-shim-wasm-v1/internal/zygote"
)

// ReadStats loads the container's cgroup by its well-known path (the
// cgroup itself is host-visible kernel state, unlike the namespaces
// entered only inside the zygote) and returns its resource metrics.
// Grounded on pkg/resourcecontrol/cgroups.go's LinuxCgroup.Stat, which
// calls cg.Stat(cgroups.IgnoreNotExist) on the same cgroups.Cgroup type.
func ReadStats(namespace string) (*cgroupstats.Metrics, error) {
	cg, err := cgroups.Load(cgroups.V1, cgroups.StaticPath(zygote.CgroupPath(namespace)))
	if err != nil {
		return nil, fmt.Errorf("load cgroup: %w", err)
	}
	stat, err := cg.Stat(cgroups.IgnoreNotExist)
	if err != nil {
		return nil, fmt.Errorf("read cgroup stats: %w", err)
	}
	return stat, nil
}
