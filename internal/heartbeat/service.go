// Package heartbeat periodically publishes a power status snapshot on the
// bus. The interval can be changed at runtime through config/heartbeat.
package heartbeat

import (
	"context"
	"time"

	"ecpower-go/bus"
	"ecpower-go/internal/logger"
)

var (
	TopicStatus = bus.T("power", "status")
	TopicConfig = bus.T("config", "heartbeat")
)

// Config messages on TopicConfig carry either a time.Duration or a map with
// "interval" in seconds.
type Config struct {
	Interval time.Duration
}

type Service struct {
	interval time.Duration
	status   func() any
}

// New returns a service publishing status() every interval.
func New(interval time.Duration, status func() any) *Service {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Service{interval: interval, status: status}
}

// Start runs the service loop until ctx is done.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) {
	cfgSub := conn.Subscribe(TopicConfig)
	go s.serviceLoop(logger.WithName(ctx, "heartbeat"), conn, cfgSub)
}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection, cfgSub *bus.Subscription) {
	defer conn.Unsubscribe(cfgSub)

	tick := time.NewTicker(s.interval)
	defer tick.Stop()

	s.publish(conn)
	for {
		select {
		case <-ctx.Done():
			logger.DebugKV(ctx, "heartbeat stopping")
			return
		case <-tick.C:
			s.publish(conn)
		case msg, ok := <-cfgSub.Channel():
			if !ok {
				return
			}
			if d, ok := interval(msg.Payload); ok {
				tick.Reset(d)
				logger.InfoKV(ctx, "heartbeat interval set", "interval", d)
			}
		}
	}
}

func (s *Service) publish(conn *bus.Connection) {
	conn.Publish(conn.NewMessage(TopicStatus, s.status(), true))
}

func interval(p any) (time.Duration, bool) {
	switch v := p.(type) {
	case time.Duration:
		return v, v > 0
	case Config:
		return v.Interval, v.Interval > 0
	case map[string]any:
		if iv, ok := v["interval"].(float64); ok && iv > 0 {
			return time.Duration(iv * float64(time.Second)), true
		}
	}
	return 0, false
}
