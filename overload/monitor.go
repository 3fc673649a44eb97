package overload

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
)

// shedder is the factory capability the monitor drives under pressure.
type shedder interface {
	ResetAccountsAtOrAbove(bucket uint32) uint64
}

// PressureSource reports the current pressure of the guarded resource as
// a fraction in [0, 1].
type PressureSource interface {
	Pressure() float64
}

// ShedEvent describes one shedding pass.
type ShedEvent struct {
	// Pressure that triggered the pass.
	Pressure float64

	// Bucket is the lowest bucket index that was reset.
	Bucket uint32

	// Streams is the number of streams that were reset.
	Streams uint64
}

type subscriptionID string

type eventSubscription struct {
	eventCh chan ShedEvent
}

// SubscribeResult is returned to shed event subscribers.
type SubscribeResult struct {
	SubscriptionID subscriptionID
	EventCh        <-chan ShedEvent
}

// Monitor periodically samples a pressure source and, through the reset
// streams adapter, sheds the heaviest tracked streams when pressure runs
// past the configured limits.
type Monitor struct {
	logger  hclog.Logger
	factory shedder
	source  PressureSource
	adapter *ResetStreamsAdapter

	sampleInterval time.Duration

	subscriptions     map[subscriptionID]*eventSubscription
	subscriptionsLock sync.RWMutex

	shutdownCh chan struct{}
	closeOnce  sync.Once
}

// NewMonitor validates the config and builds a monitor. Start must be
// called for sampling to begin.
func NewMonitor(
	logger hclog.Logger,
	factory shedder,
	source PressureSource,
	config *Config,
) (*Monitor, error) {
	if config == nil {
		config = DefaultConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	adapter, err := NewResetStreamsAdapter(config.LowerLimit, config.UpperLimit)
	if err != nil {
		return nil, err
	}

	return &Monitor{
		logger:         logger.Named("overload"),
		factory:        factory,
		source:         source,
		adapter:        adapter,
		sampleInterval: config.SampleInterval,
		subscriptions:  make(map[subscriptionID]*eventSubscription),
		shutdownCh:     make(chan struct{}),
	}, nil
}

// Start launches the sampling loop.
func (m *Monitor) Start() {
	go m.runLoop()
}

// Close stops the sampling loop and cancels all subscriptions.
func (m *Monitor) Close() {
	m.closeOnce.Do(func() {
		close(m.shutdownCh)
	})

	m.subscriptionsLock.Lock()
	defer m.subscriptionsLock.Unlock()

	for id, subscription := range m.subscriptions {
		close(subscription.eventCh)
		delete(m.subscriptions, id)
	}
}

// Subscribe registers a new listener for shed events. Events are dropped
// for subscribers that fall behind.
func (m *Monitor) Subscribe() *SubscribeResult {
	m.subscriptionsLock.Lock()
	defer m.subscriptionsLock.Unlock()

	id := subscriptionID(uuid.New().String())
	subscription := &eventSubscription{
		eventCh: make(chan ShedEvent, 16),
	}

	m.subscriptions[id] = subscription
	m.logger.Info("added new shed event subscription", "id", id)

	return &SubscribeResult{
		SubscriptionID: id,
		EventCh:        subscription.eventCh,
	}
}

// CancelSubscription stops a subscription for shed events.
func (m *Monitor) CancelSubscription(id subscriptionID) {
	m.subscriptionsLock.Lock()
	defer m.subscriptionsLock.Unlock()

	if subscription, ok := m.subscriptions[id]; ok {
		close(subscription.eventCh)
		delete(m.subscriptions, id)
		m.logger.Info("canceled shed event subscription", "id", id)
	}
}

func (m *Monitor) runLoop() {
	ticker := time.NewTicker(m.sampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.shutdownCh:
			return
		case <-ticker.C:
			m.sample()
		}
	}
}

// sample reads the pressure source once and sheds if the adapter calls
// for it.
func (m *Monitor) sample() {
	pressure := m.source.Pressure()

	bucket, shed := m.adapter.BucketsToReset(pressure)
	if !shed {
		return
	}

	streams := m.factory.ResetAccountsAtOrAbove(bucket)

	m.logger.Info(
		"memory pressure shedding pass",
		"pressure", pressure,
		"bucket", bucket,
		"streams", streams,
	)

	m.fireEvent(ShedEvent{
		Pressure: pressure,
		Bucket:   bucket,
		Streams:  streams,
	})
}

// fireEvent is a helper method for alerting listeners of a new shed
// event.
func (m *Monitor) fireEvent(event ShedEvent) {
	m.subscriptionsLock.RLock()
	defer m.subscriptionsLock.RUnlock()

	for id, subscription := range m.subscriptions {
		select {
		case subscription.eventCh <- event:
		default:
			m.logger.Debug("subscriber is not keeping up, dropping shed event", "id", id)
		}
	}
}
