package report

import (
	"fmt"

	"github.com/herclab/quakecast/pkg/eval"
	"github.com/herclab/quakecast/pkg/preprocess"
)

// ChannelMetrics is the score of a single channel.
type ChannelMetrics struct {
	Channel      string `yaml:"channel"`
	eval.Metrics `yaml:",inline"`
}

// MetricsRecord is the content of metrics.yaml.
type MetricsRecord struct {
	Split      string           `yaml:"split"`
	Overall    eval.Metrics     `yaml:"overall"`
	PerChannel []ChannelMetrics `yaml:"per_channel"`
}

// RecordMetrics scores predictions against targets, both in physical units,
// overall and for every channel. names labels the channels.
func RecordMetrics(split string, pred, truth *preprocess.Tensor, names []string) (MetricsRecord, error) {
	if len(pred.Data) != len(truth.Data) || pred.Channels != truth.Channels {
		return MetricsRecord{}, fmt.Errorf("prediction shape %dx%dx%d does not match targets %dx%dx%d",
			pred.Windows, pred.Steps, pred.Channels, truth.Windows, truth.Steps, truth.Channels)
	}
	rec := MetricsRecord{
		Split:   split,
		Overall: eval.Score(pred.Data, truth.Data),
	}
	for c, m := range eval.ScoreChannels(pred.Data, truth.Data, pred.Channels) {
		name := fmt.Sprintf("ch%d", c)
		if c < len(names) && names[c] != "" {
			name = names[c]
		}
		rec.PerChannel = append(rec.PerChannel, ChannelMetrics{Channel: name, Metrics: m})
	}
	return rec, nil
}

// RecordMetrics writes metrics.yaml.
func (r *Run) RecordMetrics(rec MetricsRecord) error {
	return r.WriteYAML(MetricsFile, rec)
}
