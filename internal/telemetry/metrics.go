// Package telemetry names the metrics emitted by the streaming pipeline.
package telemetry

import (
	"github.com/hashicorp/go-metrics"
)

var (
	MetricBatchSentCount       = []string{"spiship", "batch", "sent", "count"}
	MetricBatchSentBytes       = []string{"spiship", "batch", "sent", "bytes"}
	MetricBatchDrainedCount    = []string{"spiship", "batch", "drained", "count"}
	MetricPublishTimeoutCount  = []string{"spiship", "batch", "publish", "timeout", "count"}
	MetricSendErrorCount       = []string{"spiship", "send", "error", "count"}
	MetricConnectErrorCount    = []string{"spiship", "connect", "error", "count"}
	MetricSessionCount         = []string{"spiship", "session", "established", "count"}
	MetricDeviceErrorCount     = []string{"spiship", "device", "error", "count"}
	MetricHandshakeAttempts    = []string{"spiship", "handshake", "attempts"}
	MetricValidationMatched    = []string{"spiship", "validation", "matched"}
	MetricValidationMismatched = []string{"spiship", "validation", "mismatched"}
	MetricValidationAccuracy   = []string{"spiship", "validation", "accuracy"}

	MetricReceiverClientCount  = []string{"spiship", "receiver", "client", "count"}
	MetricReceiverMessageCount = []string{"spiship", "receiver", "message", "count"}
	MetricReceiverBytes        = []string{"spiship", "receiver", "bytes"}
	MetricWatcherFrameCount    = []string{"spiship", "watcher", "frame", "count"}
)

// Label is a metric label name.
type Label string

var (
	LabelKind Label = "kind"
	LabelPeer Label = "peer"
)

// M builds a metrics.Label with this name.
func (lab Label) M(val string) metrics.Label {
	return metrics.Label{Name: string(lab), Value: val}
}

// SinkOrDefault returns sink, or the process-wide go-metrics instance when nil.
func SinkOrDefault(sink metrics.MetricSink) metrics.MetricSink {
	if sink != nil {
		return sink
	}
	return metrics.Default()
}
