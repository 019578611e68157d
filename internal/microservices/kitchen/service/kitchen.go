package service

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"restaurant-system/internal/common/logger"
	"restaurant-system/internal/connections/rabbitmq"
	"restaurant-system/internal/domain"
	"restaurant-system/internal/microservices/kitchen/repository"
)

// ErrMalformedMessage marks a delivery whose body is not a JSON object.
var ErrMalformedMessage = errors.New("malformed order message")

// prefetch is fixed: the broker hands out one unacked delivery at a time.
const prefetch = 1

type Config struct {
	URL             string
	Queue           string
	ReconnectDelay  time.Duration
	PrepareDuration time.Duration
}

type KitchenServiceInterface interface {
	Run(ctx context.Context) error
	Shutdown()
	State() State
}

type KitchenService struct {
	cfg   Config
	dial  rabbitmq.Dialer
	db    repository.KitchenRepositoryInterface
	lg    *logger.Logger
	sleep func(time.Duration)
	tag   string

	mu   sync.Mutex
	conn rabbitmq.Connection
	ch   rabbitmq.Channel

	state      atomic.Int32
	processing atomic.Bool

	stop     chan struct{}
	stopOnce sync.Once
}

func NewKitchenService(cfg Config, dial rabbitmq.Dialer, db repository.KitchenRepositoryInterface, lg *logger.Logger) *KitchenService {
	host, _ := os.Hostname()
	return &KitchenService{
		cfg:   cfg,
		dial:  dial,
		db:    db,
		lg:    lg,
		sleep: time.Sleep,
		tag:   "kitchen-" + host + "-" + uuid.NewString()[:8],
		stop:  make(chan struct{}),
	}
}

func (ks *KitchenService) State() State { return State(ks.state.Load()) }

// Processing reports whether a delivery is being handled or shutdown has
// started. Like State it is a read-only diagnostic; the loop reads the flag
// directly.
func (ks *KitchenService) Processing() bool { return ks.processing.Load() }

func (ks *KitchenService) setState(s State) { ks.state.Store(int32(s)) }

// Run connects, consumes and reconnects until Shutdown is called or ctx ends.
// Broker failures are never returned; they are logged and retried after
// ReconnectDelay.
func (ks *KitchenService) Run(ctx context.Context) error {
	for {
		if ks.stopped(ctx) {
			return nil
		}

		deliveries, closed, err := ks.connect()
		if err != nil {
			ks.logConnectFailure(err)
			if ks.processing.Load() {
				return nil
			}
			if !ks.waitRetry(ctx) {
				return nil
			}
			continue
		}

		ks.consume(ctx, deliveries, closed)

		if ks.processing.Load() || ks.stopped(ctx) {
			return nil
		}
		if !ks.waitRetry(ctx) {
			return nil
		}
	}
}

type closeNotices struct {
	conn chan *amqp.Error
	ch   chan *amqp.Error
}

func (ks *KitchenService) connect() (<-chan amqp.Delivery, closeNotices, error) {
	ks.setState(StateConnecting)
	ks.lg.Info("rabbitmq_connecting", map[string]any{"url": rabbitmq.MaskURL(ks.cfg.URL), "queue": ks.cfg.Queue})

	fail := func(err error, closers ...func() error) (<-chan amqp.Delivery, closeNotices, error) {
		for _, c := range closers {
			_ = c()
		}
		ks.setState(StateDisconnected)
		return nil, closeNotices{}, err
	}

	conn, err := ks.dial(ks.cfg.URL)
	if err != nil {
		return fail(errors.Wrap(err, "dial"))
	}
	ch, err := conn.Channel()
	if err != nil {
		return fail(errors.Wrap(err, "open channel"), conn.Close)
	}

	// buffered: the client blocks on an unread close notification
	notices := closeNotices{
		conn: conn.NotifyClose(make(chan *amqp.Error, 1)),
		ch:   ch.NotifyClose(make(chan *amqp.Error, 1)),
	}

	if _, err := ch.QueueDeclare(ks.cfg.Queue, true, false, false, false, nil); err != nil {
		return fail(errors.Wrapf(err, "declare queue %s", ks.cfg.Queue), ch.Close, conn.Close)
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return fail(errors.Wrap(err, "set prefetch"), ch.Close, conn.Close)
	}
	deliveries, err := ch.Consume(ks.cfg.Queue, ks.tag, false, false, false, false, nil)
	if err != nil {
		return fail(errors.Wrap(err, "consume"), ch.Close, conn.Close)
	}

	ks.mu.Lock()
	select {
	case <-ks.stop:
		ks.mu.Unlock()
		return fail(errors.New("shutdown in progress"), ch.Close, conn.Close)
	default:
	}
	ks.conn, ks.ch = conn, ch
	ks.mu.Unlock()

	ks.setState(StateConnected)
	ks.lg.Info("rabbitmq_connected", map[string]any{
		"queue": ks.cfg.Queue, "prefetch": prefetch, "consumer_tag": ks.tag,
	})
	return deliveries, notices, nil
}

func (ks *KitchenService) consume(ctx context.Context, deliveries <-chan amqp.Delivery, closed closeNotices) {
	for {
		select {
		case <-ctx.Done():
			ks.teardown()
			return
		case <-ks.stop:
			return
		case e := <-closed.conn:
			ks.onClosed("connection", e)
			return
		case e := <-closed.ch:
			ks.onClosed("channel", e)
			return
		case d, ok := <-deliveries:
			if !ok {
				ks.onDeliveriesClosed(closed)
				return
			}
			if ks.stopped(ctx) {
				// left unacked; the broker requeues it when the channel closes
				return
			}
			ks.handle(ctx, d)
		}
	}
}

// onDeliveriesClosed reports why the delivery stream ended. A pending close
// notice means the channel or connection died; otherwise the broker
// cancelled the consumer.
func (ks *KitchenService) onDeliveriesClosed(closed closeNotices) {
	select {
	case e := <-closed.conn:
		ks.onClosed("connection", e)
	case e := <-closed.ch:
		ks.onClosed("channel", e)
	default:
		ks.lg.Warn("consumer_canceled", map[string]any{"consumer_tag": ks.tag})
		ks.teardown()
	}
}

func (ks *KitchenService) onClosed(what string, e *amqp.Error) {
	if e != nil {
		ks.lg.Error("rabbitmq_"+what+"_error", e, map[string]any{"code": e.Code, "reason": e.Reason})
	} else {
		ks.lg.Warn("rabbitmq_"+what+"_closed", nil)
	}
	ks.teardown()
}

// teardown drops the held connection and channel. Closing is best-effort,
// either may already be gone.
func (ks *KitchenService) teardown() {
	ks.mu.Lock()
	conn, ch := ks.conn, ks.ch
	ks.conn, ks.ch = nil, nil
	ks.mu.Unlock()

	if ch != nil {
		_ = ch.Close()
	}
	if conn != nil && !conn.IsClosed() {
		_ = conn.Close()
	}
	ks.setState(StateDisconnected)
}

func (ks *KitchenService) waitRetry(ctx context.Context) bool {
	ks.lg.Info("rabbitmq_reconnect_scheduled", map[string]any{"delay": ks.cfg.ReconnectDelay.String()})

	t := time.NewTimer(ks.cfg.ReconnectDelay)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	case <-ks.stop:
		return false
	}
}

func (ks *KitchenService) stopped(ctx context.Context) bool {
	select {
	case <-ks.stop:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func (ks *KitchenService) logConnectFailure(err error) {
	fields := map[string]any{"url": rabbitmq.MaskURL(ks.cfg.URL)}
	if rabbitmq.IsConnRefused(err) {
		fields["hint"] = "check that the broker is running and reachable under the configured host"
	}
	ks.lg.Error("rabbitmq_connect_failed", err, fields)
}

func (ks *KitchenService) handle(ctx context.Context, d amqp.Delivery) {
	ks.processing.Store(true)
	defer ks.doneProcessing()

	lg := ks.lg.With(map[string]any{"request_id": requestID(d), "delivery_tag": d.DeliveryTag})

	if err := ks.processOne(context.WithoutCancel(ctx), lg, d); err != nil {
		if errors.Is(err, ErrMalformedMessage) {
			lg.Error("message_rejected", err, nil)
		} else {
			lg.Error("order_processing_failed", err, nil)
		}
		if nerr := d.Nack(false, false); nerr != nil {
			lg.Error("nack_failed", nerr, nil)
		}
		return
	}

	if err := d.Ack(false); err != nil {
		lg.Error("ack_failed", err, nil)
		return
	}
	lg.Debug("message_acked", nil)
}

// doneProcessing lowers the flag unless shutdown has claimed it.
func (ks *KitchenService) doneProcessing() {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	select {
	case <-ks.stop:
	default:
		ks.processing.Store(false)
	}
}

// processOne never waits on ctx: once preparation starts it runs to the end.
func (ks *KitchenService) processOne(ctx context.Context, lg *logger.Logger, d amqp.Delivery) error {
	env, err := domain.DecodeOrderEnvelope(d.Body)
	if err != nil {
		return errors.Wrap(ErrMalformedMessage, err.Error())
	}

	lg.Info("order_received", map[string]any{
		"order_id": env.OrderID, "items": env.ItemCount(), "redelivered": d.Redelivered,
	})

	ks.sleep(ks.cfg.PrepareDuration)

	if err := ks.db.UpdateOrderStatus(ctx, env.OrderID, domain.StatusPreparing); err != nil {
		return errors.Wrapf(err, "set order %s to %s", env.OrderID, domain.StatusPreparing)
	}

	lg.Info("order_status_updated", map[string]any{"order_id": env.OrderID, "status": domain.StatusPreparing})
	return nil
}

// Shutdown stops reconnecting, closes the channel, the connection and the
// database, in that order. It does not wait for an in-flight delivery.
func (ks *KitchenService) Shutdown() {
	ks.stopOnce.Do(func() {
		ks.lg.Info("graceful_shutdown", map[string]any{"in_flight": ks.processing.Load()})

		ks.mu.Lock()
		ks.processing.Store(true)
		close(ks.stop)
		conn, ch := ks.conn, ks.ch
		ks.conn, ks.ch = nil, nil
		ks.mu.Unlock()

		if ch != nil {
			if err := ch.Close(); err != nil {
				ks.lg.Error("channel_close_failed", err, nil)
			}
		}
		if conn != nil {
			if err := conn.Close(); err != nil {
				ks.lg.Error("connection_close_failed", err, nil)
			}
		}
		ks.setState(StateDisconnected)

		ks.db.Close()
		ks.lg.Info("shutdown_complete", nil)
	})
}

func requestID(d amqp.Delivery) string {
	if d.MessageId != "" {
		return d.MessageId
	}
	return uuid.NewString()
}
