// Package events exports committed changes to Kafka for downstream
// consumers (search indexing, audit, analytics) without blocking the
// commit path. Grounded on kafka_dispatcher.go's local bounded queue
// plus worker-pool-with-retry design, adapted from per-operation
// DocOpEvent records to per-revision ChangeEvent records.
package events

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/IBM/sarama"
)

// ChangeEvent is the wire record Exporter publishes: a committed change
// on one of the three streams, or a document lifecycle event (Stream
// set to the event kind, e.g. "opened", as cmd/bayoud publishes).
type ChangeEvent struct {
	DocId     string `json:"docId"`
	Stream    string `json:"stream"` // "body", "caret", "property", or a lifecycle kind such as "opened"
	RevNum    int64  `json:"revNum"`
	AuthorId  string `json:"authorId,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// ExporterOptions configures Exporter's local queue and retry policy.
type ExporterOptions struct {
	QueueSize   int
	Workers     int
	MaxRetry    int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultExporterOptions matches the teacher's production tuning.
var DefaultExporterOptions = ExporterOptions{
	QueueSize:   10_000,
	Workers:     4,
	MaxRetry:    3,
	BaseBackoff: 50 * time.Millisecond,
	MaxBackoff:  1 * time.Second,
}

// Exporter is an async dispatcher: Publish only enqueues, and a fixed
// worker pool drains the queue and retries with backoff. When the queue
// is full, Publish waits for space until ctx is done and then drops the
// event, returning ctx.Err(); with a context that has no deadline it
// can wait indefinitely.
type Exporter struct {
	producer sarama.SyncProducer
	topic    string
	queue    chan ChangeEvent
	opt      ExporterOptions
}

// NewExporter starts opt.Workers background senders. producer may be
// nil (e.g. in tests, or deployments with export disabled), in which
// case Publish is a no-op.
func NewExporter(producer sarama.SyncProducer, topic string, opt ExporterOptions) *Exporter {
	e := &Exporter{producer: producer, topic: topic, queue: make(chan ChangeEvent, opt.QueueSize), opt: opt}
	for i := 0; i < opt.Workers; i++ {
		go e.workerLoop(i)
	}
	return e
}

// Publish enqueues evt for async export. It never blocks the caller
// beyond ctx's deadline; if the queue is full it reports ctx.Err() so
// the caller can decide whether a dropped export event matters.
func (e *Exporter) Publish(ctx context.Context, evt ChangeEvent) error {
	if e.producer == nil {
		return nil
	}
	select {
	case e.queue <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Exporter) workerLoop(workerID int) {
	for evt := range e.queue {
		e.sendWithRetry(workerID, evt)
	}
}

func (e *Exporter) sendWithRetry(workerID int, evt ChangeEvent) {
	for attempt := 0; attempt <= e.opt.MaxRetry; attempt++ {
		if err := e.sendOnce(evt); err == nil {
			return
		} else if attempt == e.opt.MaxRetry {
			log.Printf("events: export failed, dropping doc=%s stream=%s rev=%d worker=%d err=%v",
				evt.DocId, evt.Stream, evt.RevNum, workerID, err)
			return
		}
		backoff := e.opt.BaseBackoff * time.Duration(1<<attempt)
		if backoff > e.opt.MaxBackoff {
			backoff = e.opt.MaxBackoff
		}
		time.Sleep(backoff)
	}
}

func (e *Exporter) sendOnce(evt ChangeEvent) error {
	b, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: e.topic,
		Key:   sarama.StringEncoder(evt.DocId),
		Value: sarama.ByteEncoder(b),
	}
	_, _, err = e.producer.SendMessage(msg)
	return err
}
