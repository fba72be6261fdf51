package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const defaultQueueSize = 64

// ElasticsearchRecorder indexes every event as a document. Events are queued and shipped by Run so the
// caller never waits on the cluster; when the queue is full events are dropped.
type ElasticsearchRecorder struct {
	esc     *elasticsearch.Client
	index   string
	queue   chan Event
	timeout time.Duration
}

// NewElasticsearchRecorder returns a recorder writing to index. Nothing is shipped until Run is called.
func NewElasticsearchRecorder(esc *elasticsearch.Client, index string, requestTimeout time.Duration) *ElasticsearchRecorder {
	return &ElasticsearchRecorder{
		esc:     esc,
		index:   index,
		queue:   make(chan Event, defaultQueueSize),
		timeout: requestTimeout,
	}
}

func (r *ElasticsearchRecorder) Eventf(object, reason, messageFmt string, args ...interface{}) {
	ev := Event{
		Object:    object,
		Reason:    reason,
		Message:   fmt.Sprintf(messageFmt, args...),
		Timestamp: time.Now().UTC(),
	}
	select {
	case r.queue <- ev:
	default:
		log.Warn().Str("object", object).Str("reason", reason).Msg("event queue full, dropping event")
	}
}

// Run ships queued events until ctx is done. Events still queued at that point are flushed with a fresh
// context before returning.
func (r *ElasticsearchRecorder) Run(ctx context.Context) {
	for {
		select {
		case ev := <-r.queue:
			r.ship(ctx, ev)
		case <-ctx.Done():
			r.drain()
			return
		}
	}
}

func (r *ElasticsearchRecorder) drain() {
	for {
		select {
		case ev := <-r.queue:
			r.ship(context.Background(), ev)
		default:
			return
		}
	}
}

func (r *ElasticsearchRecorder) ship(ctx context.Context, ev Event) {
	if err := r.indexEvent(ctx, ev); err != nil {
		log.Error().Err(err).Str("object", ev.Object).Msg("failed to index leader election event")
	}
}

func (r *ElasticsearchRecorder) indexEvent(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "failed to encode event")
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	res, err := r.esc.Index(
		r.index,
		bytes.NewReader(data),
		r.esc.Index.WithContext(ctx),
	)
	if err != nil {
		return errors.Wrap(err, "index request failed")
	}
	defer res.Body.Close()

	if res.IsError() {
		return errors.Errorf("unexpected elasticsearch response: %s", res.Status())
	}
	return nil
}
