package metrics

import (
	"time"

	obserrors "github.com/healthcompanion/processor/internal/observability/errors"
	"github.com/healthcompanion/processor/internal/observability/statsd"
)

// Result values for metric tagging, shared with the statsd line builder.
const (
	ResultSuccess = statsd.ResultSuccess
	ResultError   = statsd.ResultError
	ResultNoop    = statsd.ResultNoop
)

// LoopMetric captures details about one service loop pass for metric emission.
type LoopMetric struct {
	Service  string
	Result   string
	Duration time.Duration
	Err      error
}

// EmitLoopPass emits standardised per-pass metrics for a background service.
func EmitLoopPass(sink statsd.Sink, in LoopMetric) {
	if sink == nil {
		return
	}

	tags := statsd.ServiceTags(in.Service, in.Result)
	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags[statsd.TagErrorClass] = class
		}
	}

	sink.Count("loop.pass", 1, tags)

	if in.Duration > 0 {
		sink.Timing("loop.duration", in.Duration, CloneTags(tags))
	}

	if in.Result == ResultSuccess {
		sink.Gauge("loop.last_success_epoch", float64(time.Now().Unix()),
			map[string]string{statsd.TagService: in.Service})
	}
}

// EmitItemOutcome emits one counter per processed work item or message.
func EmitItemOutcome(sink statsd.Sink, metric, service, result string) {
	if sink == nil {
		return
	}
	sink.Count(metric, 1, statsd.ServiceTags(service, result))
}

// CloneTags creates a shallow copy of a tag map, filtering out empty keys.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
