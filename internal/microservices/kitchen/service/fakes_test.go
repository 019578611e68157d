package service

import (
	"context"
	"net"
	"os"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"restaurant-system/internal/connections/rabbitmq"
	"restaurant-system/internal/domain"
)

// journal records close calls across fakes so tests can check their order.
type journal struct {
	mu     sync.Mutex
	events []string
}

func (j *journal) add(e string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, e)
}

func (j *journal) all() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.events...)
}

type ackEvent struct {
	tag     uint64
	ack     bool
	requeue bool
}

type fakeAcker struct {
	mu     sync.Mutex
	events []ackEvent
}

func (a *fakeAcker) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ackEvent{tag: tag, ack: true})
	return nil
}

func (a *fakeAcker) Nack(tag uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ackEvent{tag: tag, requeue: requeue})
	return nil
}

func (a *fakeAcker) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func (a *fakeAcker) all() []ackEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]ackEvent(nil), a.events...)
}

type declareCall struct {
	name                                   string
	durable, autoDelete, exclusive, noWait bool
	args                                   amqp.Table
}

type consumeCall struct {
	queue, tag string
	autoAck    bool
}

type fakeChannel struct {
	mu         sync.Mutex
	acker      *fakeAcker
	j          *journal
	deliveries chan amqp.Delivery
	notify     []chan *amqp.Error
	declareErr error
	declared   []declareCall
	qos        [][3]any
	consumed   []consumeCall
	closed     bool
	closeCalls int
	nextTag    uint64
}

func newFakeChannel(acker *fakeAcker, j *journal) *fakeChannel {
	return &fakeChannel{acker: acker, j: j, deliveries: make(chan amqp.Delivery, 32)}
}

func (c *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.declared = append(c.declared, declareCall{name, durable, autoDelete, exclusive, noWait, args})
	return amqp.Queue{Name: name}, c.declareErr
}

func (c *fakeChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.qos = append(c.qos, [3]any{prefetchCount, prefetchSize, global})
	return nil
}

func (c *fakeChannel) Consume(queue, consumer string, autoAck, _, _, _ bool, _ amqp.Table) (<-chan amqp.Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consumed = append(c.consumed, consumeCall{queue: queue, tag: consumer, autoAck: autoAck})
	return c.deliveries, nil
}

func (c *fakeChannel) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		close(receiver)
		return receiver
	}
	c.notify = append(c.notify, receiver)
	return receiver
}

func (c *fakeChannel) Close() error {
	c.j.add("channel.close")
	c.mu.Lock()
	c.closeCalls++
	c.mu.Unlock()
	if !c.shutdown(nil) {
		return amqp.ErrClosed
	}
	return nil
}

// shutdown mimics the client: notify listeners once, then close the
// delivery stream. It reports false when already closed.
func (c *fakeChannel) shutdown(err *amqp.Error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	for _, r := range c.notify {
		if err != nil {
			r <- err
		}
		close(r)
	}
	close(c.deliveries)
	return true
}

func (c *fakeChannel) publish(body string, redelivered bool) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextTag++
	c.deliveries <- amqp.Delivery{
		Acknowledger: c.acker,
		DeliveryTag:  c.nextTag,
		Body:         []byte(body),
		Redelivered:  redelivered,
	}
	return c.nextTag
}

// cancel closes the delivery stream only, like a broker-side consumer cancel.
func (c *fakeChannel) cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	close(c.deliveries)
	c.deliveries = make(chan amqp.Delivery)
}

type fakeConn struct {
	mu         sync.Mutex
	ch         *fakeChannel
	chErr      error
	j          *journal
	notify     []chan *amqp.Error
	closed     bool
	closeCalls int
}

func newFakeConn(acker *fakeAcker, j *journal) *fakeConn {
	return &fakeConn{ch: newFakeChannel(acker, j), j: j}
}

func (c *fakeConn) Channel() (rabbitmq.Channel, error) {
	if c.chErr != nil {
		return nil, c.chErr
	}
	return c.ch, nil
}

func (c *fakeConn) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		close(receiver)
		return receiver
	}
	c.notify = append(c.notify, receiver)
	return receiver
}

func (c *fakeConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) Close() error {
	c.j.add("connection.close")
	c.mu.Lock()
	c.closeCalls++
	c.mu.Unlock()
	if !c.shutdown(nil) {
		return amqp.ErrClosed
	}
	return nil
}

func (c *fakeConn) shutdown(err *amqp.Error) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.closed = true
	for _, r := range c.notify {
		if err != nil {
			r <- err
		}
		close(r)
	}
	c.mu.Unlock()
	c.ch.shutdown(err)
	return true
}

// drop simulates the broker going away.
func (c *fakeConn) drop() {
	c.shutdown(&amqp.Error{Code: amqp.ConnectionForced, Reason: "CONNECTION_FORCED - broker forced connection closure", Server: true})
}

func (c *fakeConn) closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCalls
}

type fakeDialer struct {
	mu       sync.Mutex
	conns    []*fakeConn
	attempts []time.Time
	urls     []string
}

var errRefused = &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}

func (d *fakeDialer) dial(url string) (rabbitmq.Connection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attempts = append(d.attempts, time.Now())
	d.urls = append(d.urls, url)
	if len(d.conns) == 0 {
		return nil, errRefused
	}
	c := d.conns[0]
	d.conns = d.conns[1:]
	if c == nil {
		return nil, errRefused
	}
	return c, nil
}

// queue adds outcomes for the next dials; nil means refused.
func (d *fakeDialer) queue(conns ...*fakeConn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conns = append(d.conns, conns...)
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.attempts)
}

func (d *fakeDialer) times() []time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]time.Time(nil), d.attempts...)
}

type updateCall struct {
	orderID string
	status  domain.OrderStatus
}

type fakeRepo struct {
	mu          sync.Mutex
	j           *journal
	calls       []updateCall
	err         error
	block       chan struct{}
	entered     chan struct{}
	inFlight    int
	maxInFlight int
	closeCalls  int
}

func newFakeRepo(j *journal) *fakeRepo {
	return &fakeRepo{j: j, entered: make(chan struct{}, 32)}
}

func (r *fakeRepo) UpdateOrderStatus(_ context.Context, orderID string, status domain.OrderStatus) error {
	r.mu.Lock()
	r.inFlight++
	if r.inFlight > r.maxInFlight {
		r.maxInFlight = r.inFlight
	}
	block := r.block
	r.mu.Unlock()

	r.entered <- struct{}{}
	if block != nil {
		<-block
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.inFlight--
	r.calls = append(r.calls, updateCall{orderID, status})
	return r.err
}

func (r *fakeRepo) Close() {
	r.j.add("db.close")
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeCalls++
}

func (r *fakeRepo) updates() []updateCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]updateCall(nil), r.calls...)
}

func (r *fakeRepo) closes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeCalls
}

type sleepRecorder struct {
	mu    sync.Mutex
	slept []time.Duration
}

func (s *sleepRecorder) sleep(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slept = append(s.slept, d)
}

func (s *sleepRecorder) all() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.slept...)
}
