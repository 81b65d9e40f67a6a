// Copyright (c) 2026 The wasmshim Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHappyPath(t *testing.T) {
	m := New()
	assert.Equal(t, Created, m.Status())

	require.NoError(t, m.Start())
	assert.Equal(t, Starting, m.Status())

	require.NoError(t, m.Started())
	assert.Equal(t, Started, m.Status())

	require.NoError(t, m.Kill())
	assert.Equal(t, Started, m.Status(), "kill does not change state")

	require.NoError(t, m.Stop())
	assert.Equal(t, Exited, m.Status())

	require.NoError(t, m.Delete())
	assert.Equal(t, Deleting, m.Status())
}

func TestDeleteWithoutStart(t *testing.T) {
	m := New()
	require.NoError(t, m.Delete())
	assert.Equal(t, Deleting, m.Status())
}

func TestRetryDeleteAfterFailure(t *testing.T) {
	m := New()
	require.NoError(t, m.Start())
	require.NoError(t, m.Started())
	require.NoError(t, m.Stop())
	require.NoError(t, m.Delete())
	assert.Equal(t, Deleting, m.Status())

	// Simulate instance.delete() failing: InstanceData transitions back
	// to Exited so the caller can retry Delete.
	require.NoError(t, m.Stop())
	assert.Equal(t, Exited, m.Status())

	require.NoError(t, m.Delete())
	assert.Equal(t, Deleting, m.Status())
}

func TestKillRejectedOnStarting(t *testing.T) {
	m := New()
	require.NoError(t, m.Start())

	err := m.Kill()
	require.Error(t, err)
	var ite *InvalidTransitionError
	require.ErrorAs(t, err, &ite)
	assert.Equal(t, Starting, ite.From)
	assert.Equal(t, Starting, m.Status(), "failed transition leaves state unchanged")
}

func TestIllegalEdgesLeaveStateUnchanged(t *testing.T) {
	cases := []struct {
		name  string
		setup func(*Machine)
		op    func(*Machine) error
	}{
		{"start-from-started", func(m *Machine) { _ = m.Start(); _ = m.Started() }, (*Machine).Start},
		{"kill-from-created", func(m *Machine) {}, (*Machine).Kill},
		{"started-from-created", func(m *Machine) {}, (*Machine).Started},
		{"delete-from-starting", func(m *Machine) { _ = m.Start() }, (*Machine).Delete},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := New()
			tc.setup(m)
			before := m.Status()
			err := tc.op(m)
			require.Error(t, err)
			assert.Equal(t, before, m.Status())
		})
	}
}

func TestDoubleDeleteSecondFails(t *testing.T) {
	m := New()
	require.NoError(t, m.Delete())
	err := m.Delete()
	require.Error(t, err)
}
