// Copyright (c) 2026 The wasmshim Authors
//
// SPDX-License-Identifier: Apache-2.0
//

// Package oci parses the on-disk OCI runtime bundle a Create request
// points at: config.json (the runtime spec) and the optional
// options.json root override, plus the grouping-key annotation used to
// decide which shim process hosts a container.
//
// Grounded on virtcontainers/pkg/compatoci.ParseConfigJSON (config.json
// parsing shape) and pkg/containerd-shim-v2/device_cold_plug.go's
// sandbox annotation constants.
package oci

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("source", "oci")

// SandboxIDAnnotation is the CRI annotation that groups containers
// sharing a pod sandbox onto one shim process.
const SandboxIDAnnotation = "io.kubernetes.cri.sandbox-id"

// SetLogger rebinds the package logger, mirroring compatoci.SetLogger.
func SetLogger(logger *logrus.Entry) {
	log = logger.WithFields(log.Data)
}

// Options is the optional bundle/options.json document. An absent or
// empty Root means "no override": the caller derives the default root
// from the engine name and namespace.
type Options struct {
	Root string `json:"root,omitempty"`
}

// ParseConfig reads and unmarshals bundle/config.json.
func ParseConfig(bundlePath string) (*specs.Spec, error) {
	configPath := filepath.Join(bundlePath, "config.json")
	raw, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", configPath, err)
	}
	var spec specs.Spec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", configPath, err)
	}
	return &spec, nil
}

// ParseOptions reads bundle/options.json if present. A missing file is
// not an error: it returns a zero-value Options.
func ParseOptions(bundlePath string) (*Options, error) {
	optsPath := filepath.Join(bundlePath, "options.json")
	raw, err := os.ReadFile(optsPath)
	if os.IsNotExist(err) {
		return &Options{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", optsPath, err)
	}
	var opts Options
	if err := json.Unmarshal(raw, &opts); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", optsPath, err)
	}
	return &opts, nil
}

// DefaultRoot derives the container root directory from the engine name
// and namespace when options.json does not override it:
// /run/<engine>/<namespace>/<id>.
func DefaultRoot(engineName, namespace, id string) string {
	return filepath.Join("/run", engineName, namespace, id)
}

// ResolveRoot applies the precedence rule from spec.md §3: an explicit
// options.json root wins, otherwise fall back to DefaultRoot.
func ResolveRoot(opts *Options, engineName, namespace, id string) string {
	if opts != nil && opts.Root != "" {
		return opts.Root
	}
	return DefaultRoot(engineName, namespace, id)
}

// GroupingKey returns the sandbox-id annotation used to decide which
// shim process a container is grouped under. An empty string means the
// container is not part of a group (it gets its own shim).
func GroupingKey(spec *specs.Spec) string {
	if spec == nil || spec.Annotations == nil {
		return ""
	}
	return spec.Annotations[SandboxIDAnnotation]
}
