package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/123bigmirros/electronic-grave/models"
)

var (
	ErrClaimTimeout = errors.New("claim request timed out")
	ErrClaimFailed  = errors.New("claim request failed")
)

const DefaultClaimQueue = "grave:claims"

// ClaimQueueClient sends claim requests to workers over a Redis list and
// waits for the answer on a reply channel of its own.
type ClaimQueueClient struct {
	rdb     *redis.Client
	queue   string
	replyTo string
	timeout time.Duration
	logger  zerolog.Logger

	pending sync.Map // correlation id -> chan models.ClaimReply
	ready   chan struct{}
	once    sync.Once
}

func NewClaimQueueClient(rdb *redis.Client, queue string, timeout time.Duration, logger zerolog.Logger) *ClaimQueueClient {
	if queue == "" {
		queue = DefaultClaimQueue
	}
	return &ClaimQueueClient{
		rdb:     rdb,
		queue:   queue,
		replyTo: queue + ":reply:" + uuid.NewString(),
		timeout: timeout,
		logger:  logger,
		ready:   make(chan struct{}),
	}
}

// Ready is closed once the reply subscription is active.
func (c *ClaimQueueClient) Ready() <-chan struct{} {
	return c.ready
}

// Run consumes replies until ctx is done.
func (c *ClaimQueueClient) Run(ctx context.Context) error {
	sub := c.rdb.Subscribe(ctx, c.replyTo)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", c.replyTo, err)
	}
	c.once.Do(func() { close(c.ready) })

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			c.dispatch([]byte(msg.Payload))
		}
	}
}

func (c *ClaimQueueClient) dispatch(payload []byte) {
	var reply models.ClaimReply
	if err := cbor.Unmarshal(payload, &reply); err != nil {
		c.logger.Warn().Err(err).Msg("dropping malformed claim reply")
		return
	}
	v, ok := c.pending.LoadAndDelete(reply.CorrelationID)
	if !ok {
		c.logger.Debug().Str("correlation_id", reply.CorrelationID).Msg("reply for unknown or expired request")
		return
	}
	v.(chan models.ClaimReply) <- reply
}

// ClaimPrivateHeritageItem enqueues a claim and blocks for its reply. On
// timeout the outcome is unknown: the worker may still have claimed the item.
func (c *ClaimQueueClient) ClaimPrivateHeritageItem(ctx context.Context, heritageID, callerID int64) (*models.HeritageItem, error) {
	req := models.ClaimRequest{
		CorrelationID: uuid.NewString(),
		HeritageID:    heritageID,
		UserID:        callerID,
		ReplyTo:       c.replyTo,
	}
	data, err := cbor.Marshal(req)
	if err != nil {
		return nil, err
	}

	done := make(chan models.ClaimReply, 1)
	c.pending.Store(req.CorrelationID, done)
	defer c.pending.Delete(req.CorrelationID)

	if err := c.rdb.LPush(ctx, c.queue, data).Err(); err != nil {
		return nil, fmt.Errorf("enqueue claim: %w", err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case reply := <-done:
		if reply.Failed {
			return nil, fmt.Errorf("%w: %s", ErrClaimFailed, reply.Error)
		}
		return reply.Item, nil
	case <-timer.C:
		return nil, ErrClaimTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ClaimQueueWorker pops claim requests and answers them with a Claimer.
type ClaimQueueWorker struct {
	rdb         *redis.Client
	queue       string
	claimer     Claimer
	pollTimeout time.Duration
	logger      zerolog.Logger
}

func NewClaimQueueWorker(rdb *redis.Client, queue string, claimer Claimer, logger zerolog.Logger) *ClaimQueueWorker {
	if queue == "" {
		queue = DefaultClaimQueue
	}
	return &ClaimQueueWorker{
		rdb:         rdb,
		queue:       queue,
		claimer:     claimer,
		pollTimeout: time.Second,
		logger:      logger,
	}
}

func (w *ClaimQueueWorker) Run(ctx context.Context) error {
	w.logger.Info().Str("queue", w.queue).Msg("claim worker started")
	for {
		if ctx.Err() != nil {
			return nil
		}
		res, err := w.rdb.BRPop(ctx, w.pollTimeout, w.queue).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Error().Err(err).Msg("pop claim request")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(w.pollTimeout):
			}
			continue
		}
		// res is [queue, payload]
		w.handle(ctx, []byte(res[1]))
	}
}

func (w *ClaimQueueWorker) handle(ctx context.Context, payload []byte) {
	var req models.ClaimRequest
	if err := cbor.Unmarshal(payload, &req); err != nil {
		w.logger.Warn().Err(err).Msg("dropping malformed claim request")
		return
	}
	if req.ReplyTo == "" {
		w.logger.Warn().Str("correlation_id", req.CorrelationID).Msg("claim request without reply channel")
		return
	}

	reply := models.ClaimReply{CorrelationID: req.CorrelationID}
	if authenticated(req.UserID) {
		item, err := w.claimer.ClaimPrivateHeritageItem(ctx, req.HeritageID, req.UserID)
		if err != nil {
			reply.Failed = true
			reply.Error = err.Error()
		}
		reply.Item = item
	}

	data, err := cbor.Marshal(reply)
	if err != nil {
		w.logger.Error().Err(err).Msg("encode claim reply")
		return
	}
	if err := w.rdb.Publish(ctx, req.ReplyTo, data).Err(); err != nil {
		w.logger.Error().Err(err).Str("reply_to", req.ReplyTo).Msg("publish claim reply")
	}
}
