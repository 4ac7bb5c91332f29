package metrics

import "time"

// NopMetrics discards all metrics.
type NopMetrics struct{}

// Compile-time assertion that NopMetrics implements Collector.
var _ Collector = (*NopMetrics)(nil)

// NewNop creates a new no-op metrics collector.
func NewNop() *NopMetrics {
	return &NopMetrics{}
}

func (n *NopMetrics) RecordMessageIn(int)                 {}
func (n *NopMetrics) RecordMessageOut(int)                {}
func (n *NopMetrics) RecordStateChange(string, string)    {}
func (n *NopMetrics) RecordReconnect(string)              {}
func (n *NopMetrics) RecordBufferDropped(int)             {}
func (n *NopMetrics) RecordSlowConsumer()                 {}
func (n *NopMetrics) SetSubscriptions(int)                {}
func (n *NopMetrics) RecordRequest(string, time.Duration) {}
func (n *NopMetrics) RecordRTT(time.Duration)             {}
