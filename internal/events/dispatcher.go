package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/smallbiznis/supportdesk/internal/clock"
	"github.com/smallbiznis/supportdesk/internal/config"
	obsmetrics "github.com/smallbiznis/supportdesk/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Handler delivers one event. Returned errors are recorded and logged, never retried.
type Handler func(ctx context.Context, evt Event) error

type DispatcherParams struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Config     config.Config
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Dispatcher delivers committed outbox events asynchronously.
type Dispatcher struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	timeout    time.Duration
	obsMetrics *obsmetrics.Metrics

	mu       sync.RWMutex
	handlers map[string][]Handler
	wg       sync.WaitGroup
}

func NewDispatcher(p DispatcherParams) *Dispatcher {
	timeout := time.Duration(p.Config.Events.DeliveryTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Dispatcher{
		db:         p.DB,
		log:        p.Log.Named("events.dispatcher"),
		clock:      p.Clock,
		timeout:    timeout,
		obsMetrics: p.ObsMetrics,
		handlers:   map[string][]Handler{},
	}
}

func (d *Dispatcher) Register(eventType string, handler Handler) {
	if handler == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[eventType] = append(d.handlers[eventType], handler)
}

// Dispatch must only be called after the transaction that published evts
// has committed. It returns immediately.
func (d *Dispatcher) Dispatch(ctx context.Context, evts ...Event) {
	pending := make([]Event, 0, len(evts))
	for _, evt := range evts {
		if evt.ID != 0 {
			pending = append(pending, evt)
		}
	}
	if len(pending) == 0 {
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		deliveryCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		for _, evt := range pending {
			d.deliver(deliveryCtx, evt)
		}
	}()
}

// Wait blocks until in-flight deliveries finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, evt Event) {
	d.mu.RLock()
	handlers := append([]Handler(nil), d.handlers[evt.Type]...)
	d.mu.RUnlock()

	var errs []error
	for _, handler := range handlers {
		if err := runHandler(ctx, handler, evt); err != nil {
			errs = append(errs, err)
		}
	}
	deliveryErr := errors.Join(errs...)
	d.obsMetrics.RecordEventDelivery(ctx, evt.Type, deliveryErr)

	if deliveryErr != nil {
		d.log.Warn("event delivery failed",
			zap.String("event_type", evt.Type),
			zap.String("event_id", evt.ID.String()),
			zap.Error(deliveryErr),
		)
		message := deliveryErr.Error()
		if err := d.db.WithContext(ctx).Model(&DomainEvent{}).
			Where("id = ?", evt.ID).
			Update("last_error", message).Error; err != nil {
			d.log.Warn("failed to record event error", zap.String("event_id", evt.ID.String()), zap.Error(err))
		}
		return
	}

	now := d.clock.Now().UTC()
	if err := d.db.WithContext(ctx).Model(&DomainEvent{}).
		Where("id = ?", evt.ID).
		Updates(map[string]any{"published_at": now, "last_error": nil}).Error; err != nil {
		d.log.Warn("failed to mark event published", zap.String("event_id", evt.ID.String()), zap.Error(err))
	}
}

func runHandler(ctx context.Context, handler Handler, evt Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, evt)
}
