// Copyright (c) 2026 The wasmshim Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package zygote

import (
	"encoding/gob"
	"fmt"
	"io"
)

// CommandKind is the closed set of operations the zygote's privileged
// child accepts over its control socket. Earlier revisions of this
// design shipped raw function pointers across the fork boundary; gob
// cannot encode those and the pattern is fragile even in languages that
// can. A small tagged-command enum is the re-architected replacement
// spec.md §9 calls for: every request is one of these five kinds, and
// the dispatch loop is a single switch statement.
type CommandKind int

const (
	CmdBuild CommandKind = iota
	CmdPid
	CmdStart
	CmdKill
	CmdDelete
)

func (k CommandKind) String() string {
	switch k {
	case CmdBuild:
		return "build"
	case CmdPid:
		return "pid"
	case CmdStart:
		return "start"
	case CmdKill:
		return "kill"
	case CmdDelete:
		return "delete"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Request is one tagged command sent from the shim process to the
// zygote's control goroutine. Only the fields relevant to Kind are
// populated; the rest are zero.
type Request struct {
	Kind      CommandKind
	Bundle    string
	Namespace string
	Root      string
	Signal    int
}

// Response carries the result of a Request back to the caller. Err is a
// string rather than the error interface because encoding/gob cannot
// encode arbitrary error values without concrete registered types.
type Response struct {
	Pid int
	Err string
}

// Error reconstructs a Go error from a Response, or nil if none.
func (r Response) Error() error {
	if r.Err == "" {
		return nil
	}
	return fmt.Errorf("%s", r.Err)
}

// errResponse builds a Response carrying err's message, or a zero
// Response if err is nil.
func errResponse(pid int, err error) Response {
	if err == nil {
		return Response{Pid: pid}
	}
	return Response{Pid: pid, Err: err.Error()}
}

// codec wraps gob encoder/decoder pairs bound to one control connection.
// Both the shim-side client and the zygote-side server use the same
// codec shape over opposite ends of the same socketpair.
type codec struct {
	enc *gob.Encoder
	dec *gob.Decoder
}

func newCodec(rw io.ReadWriter) *codec {
	return &codec{enc: gob.NewEncoder(rw), dec: gob.NewDecoder(rw)}
}

func (c *codec) send(req Request) error {
	return c.enc.Encode(req)
}

func (c *codec) recvRequest() (Request, error) {
	var req Request
	err := c.dec.Decode(&req)
	return req, err
}

func (c *codec) reply(resp Response) error {
	return c.enc.Encode(resp)
}

func (c *codec) recvResponse() (Response, error) {
	var resp Response
	err := c.dec.Decode(&resp)
	return resp, err
}
