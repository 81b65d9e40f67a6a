// Copyright (c) 2026 The wasmshim Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package waitable

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSetThenWait(t *testing.T) {
	c := New[int]()
	c.Set(42)
	assert.Equal(t, 42, c.Wait())
}

func TestWaitBlocksUntilSet(t *testing.T) {
	c := New[string]()
	done := make(chan string, 1)
	go func() {
		done <- c.Wait()
	}()

	select {
	case <-done:
		t.Fatal("Wait returned before Set")
	case <-time.After(20 * time.Millisecond):
	}

	c.Set("hello")
	select {
	case v := <-done:
		assert.Equal(t, "hello", v)
	case <-time.After(time.Second):
		t.Fatal("Wait never returned after Set")
	}
}

func TestSetTwiceFirstWins(t *testing.T) {
	c := New[int]()
	c.Set(1)
	c.Set(2)
	assert.Equal(t, 1, c.Wait())
}

func TestTryGet(t *testing.T) {
	c := New[int]()
	_, ok := c.TryGet()
	assert.False(t, ok)

	c.Set(7)
	v, ok := c.TryGet()
	assert.True(t, ok)
	assert.Equal(t, 7, v)
}
