// Package heartbeat publishes a periodic liveness message on the bus.
package heartbeat

import (
	"context"
	"time"

	"go.uber.org/zap"

	"devicekit-go/bus"
)

var (
	topicHeartbeat       = bus.T("devicekit", "heartbeat")
	topicConfigHeartbeat = bus.T("config", "heartbeat")
)

// Beat is the heartbeat payload.
type Beat struct {
	Seq    uint64
	Uptime time.Duration
	Time   time.Time
	// BusDropped is the bus-wide count of messages dropped for slow
	// subscribers.
	BusDropped uint64
}

// Config is accepted on config/heartbeat to change the interval at runtime.
type Config struct {
	Interval time.Duration `mapstructure:"interval"`
}

type Service struct {
	interval time.Duration
	bus      *bus.Bus
	log      *zap.Logger
}

func New(b *bus.Bus, interval time.Duration, log *zap.Logger) *Service {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{interval: interval, bus: b, log: log.Named("heartbeat")}
}

// Run publishes until ctx ends.
func (s *Service) Run(ctx context.Context, conn *bus.Connection) {
	cfgSub := conn.Subscribe(topicConfigHeartbeat)
	defer conn.Unsubscribe(cfgSub)

	start := time.Now()
	tick := time.NewTicker(s.interval)
	defer tick.Stop()

	var seq uint64
	for {
		select {
		case <-ctx.Done():
			s.log.Info("stopping")
			return
		case t := <-tick.C:
			seq++
			conn.Publish(bus.NewMessage(topicHeartbeat, Beat{
				Seq:        seq,
				Uptime:     t.Sub(start),
				Time:       t,
				BusDropped: s.bus.Dropped(),
			}, false))
		case msg, ok := <-cfgSub.Channel():
			if !ok {
				return
			}
			c, ok := msg.Payload.(Config)
			if !ok || c.Interval <= 0 {
				s.log.Warn("ignoring heartbeat config", zap.Any("payload", msg.Payload))
				continue
			}
			tick.Reset(c.Interval)
			s.log.Info("interval changed", zap.Duration("interval", c.Interval))
		}
	}
}
