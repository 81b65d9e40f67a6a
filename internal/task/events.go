// Copyright (c) 2026 The wasmshim Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package task

import (
	"context"
	"time"

	"github.com/containerd/containerd/events"
	"github.com/sirupsen/logrus"
)

// publishTimeout bounds how long a single event publish may take before
// it is abandoned — grounded on the teacher's timeOut constant in
// event_forwarder.go.
const publishTimeout = 5 * time.Second

// eventQueueDepth bounds the publisher's buffered queue. Past this
// depth, Publish drops the event and logs a warning rather than
// blocking the RPC path, per spec.md §4.4's publisher guarantee.
const eventQueueDepth = 256

// Topic names for the four lifecycle events this service emits.
const (
	TopicTaskCreate = "/tasks/create"
	TopicTaskStart  = "/tasks/start"
	TopicTaskExit   = "/tasks/exit"
	TopicTaskDelete = "/tasks/delete"
)

// Event is one lifecycle notification queued for the publisher.
type Event struct {
	Topic     string
	Namespace string
	Payload   interface{}
}

// Publisher forwards queued events to a containerd events.Publisher (or
// just logs them, when none is wired) without ever blocking the
// caller's RPC path. Grounded on the teacher's eventsForwarder /
// logForwarder / containerdForwarder trio in event_forwarder.go,
// collapsed into one type since this shim only ever has the one
// forwarding destination selected at construction.
type Publisher struct {
	queue     chan Event
	publisher events.Publisher
	log       *logrus.Entry
	done      chan struct{}
}

// NewPublisher starts the background drain goroutine. A nil
// containerd publisher degrades to log-only forwarding, matching the
// teacher's ttrpcAddressEnv fallback.
func NewPublisher(ctx context.Context, publisher events.Publisher, log *logrus.Entry) *Publisher {
	p := &Publisher{
		queue:     make(chan Event, eventQueueDepth),
		publisher: publisher,
		log:       log,
		done:      make(chan struct{}),
	}
	go p.forward(ctx)
	return p
}

// Publish enqueues e. If the queue is full the event is dropped and a
// warning is logged — this method must never block.
func (p *Publisher) Publish(e Event) {
	select {
	case p.queue <- e:
	default:
		p.log.WithField("topic", e.Topic).Warn("event queue full, dropping event")
	}
}

// Close stops accepting new events once the caller has drained the
// instance registry; the background goroutine exits after the queue
// empties.
func (p *Publisher) Close() {
	close(p.queue)
	<-p.done
}

func (p *Publisher) forward(ctx context.Context) {
	defer close(p.done)
	for e := range p.queue {
		if p.publisher == nil {
			p.log.WithField("topic", e.Topic).Infof("post event: %+v", e.Payload)
			continue
		}

		pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
		err := p.publisher.Publish(pubCtx, e.Topic, e.Payload)
		cancel()
		if err != nil {
			p.log.WithError(err).WithField("topic", e.Topic).Error("post event")
		}
	}
}
