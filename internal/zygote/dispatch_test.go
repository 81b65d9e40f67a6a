// Copyright (c) 2026 The wasmshim Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package zygote

import (
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDispatcher struct {
	pid       int
	buildErr  error
	startErr  error
	killErr   error
	deleteErr error
	gotBundle string
	gotSignal int
}

func (f *fakeDispatcher) Build(bundle, namespace, root string) error {
	f.gotBundle = bundle
	return f.buildErr
}
func (f *fakeDispatcher) Pid() (int, error)    { return f.pid, nil }
func (f *fakeDispatcher) Start() error         { return f.startErr }
func (f *fakeDispatcher) Kill(signal int) error {
	f.gotSignal = signal
	return f.killErr
}
func (f *fakeDispatcher) Delete() error { return f.deleteErr }

func TestServeDispatchesBuild(t *testing.T) {
	client, server := net.Pipe()
	disp := &fakeDispatcher{}
	go Serve(server, disp)

	code := newCodec(client)
	require.NoError(t, code.send(Request{Kind: CmdBuild, Bundle: "/bundle"}))
	resp, err := code.recvResponse()
	require.NoError(t, err)
	assert.NoError(t, resp.Error())
	assert.Equal(t, "/bundle", disp.gotBundle)
}

func TestServeDispatchesPidAndPropagatesValue(t *testing.T) {
	client, server := net.Pipe()
	disp := &fakeDispatcher{pid: 4242}
	go Serve(server, disp)

	code := newCodec(client)
	require.NoError(t, code.send(Request{Kind: CmdPid}))
	resp, err := code.recvResponse()
	require.NoError(t, err)
	assert.Equal(t, 4242, resp.Pid)
}

func TestServeDispatchesKillWithSignal(t *testing.T) {
	client, server := net.Pipe()
	disp := &fakeDispatcher{}
	go Serve(server, disp)

	code := newCodec(client)
	require.NoError(t, code.send(Request{Kind: CmdKill, Signal: 9}))
	resp, err := code.recvResponse()
	require.NoError(t, err)
	assert.NoError(t, resp.Error())
	assert.Equal(t, 9, disp.gotSignal)
}

func TestServeDispatchesStartError(t *testing.T) {
	client, server := net.Pipe()
	disp := &fakeDispatcher{startErr: errors.New("engine refused")}
	go Serve(server, disp)

	code := newCodec(client)
	require.NoError(t, code.send(Request{Kind: CmdStart}))
	resp, err := code.recvResponse()
	require.NoError(t, err)
	require.Error(t, resp.Error())
	assert.Equal(t, "engine refused", resp.Error().Error())
}

func TestServeReturnsAfterDelete(t *testing.T) {
	client, server := net.Pipe()
	disp := &fakeDispatcher{}
	serveDone := make(chan error, 1)
	go func() { serveDone <- Serve(server, disp) }()

	code := newCodec(client)
	require.NoError(t, code.send(Request{Kind: CmdDelete}))
	resp, err := code.recvResponse()
	require.NoError(t, err)
	assert.NoError(t, resp.Error())

	err = <-serveDone
	assert.NoError(t, err)
}

func TestServeUnknownCommandKind(t *testing.T) {
	client, server := net.Pipe()
	disp := &fakeDispatcher{}
	go Serve(server, disp)

	code := newCodec(client)
	require.NoError(t, code.send(Request{Kind: CommandKind(123)}))
	resp, err := code.recvResponse()
	require.NoError(t, err)
	require.Error(t, resp.Error())
}
