package metrics

import (
	"time"

	statsd "github.com/smira/go-statsd"
)

type Statsd struct {
	client *statsd.Client
}

func NewStatsd(nodeName string, addr string) *Statsd {
	clnt := statsd.NewClient(
		addr,
		statsd.MetricPrefix("apps.mcast-northd."),
		statsd.DefaultTags(statsd.StringTag("node", nodeName)),
	)
	return &Statsd{
		client: clnt,
	}
}

func (s *Statsd) Increment(metric string) {
	s.client.Incr(metric, 1)
}

func (s *Statsd) Add(metric string, value int) {
	s.client.Incr(metric, int64(value))
}

func (s *Statsd) Duration(metric string, duration time.Duration) {
	s.client.PrecisionTiming(metric, duration)
}

func (s *Statsd) Gauge(metric string, value int) {
	s.client.Gauge(metric, int64(value))
}

func (s *Statsd) Close() error {
	return s.client.Close()
}

type Nop struct{}

func (Nop) Increment(string)               {}
func (Nop) Add(string, int)                {}
func (Nop) Duration(string, time.Duration) {}
func (Nop) Gauge(string, int)              {}
