package training

import (
	"github.com/wonderfulspam/model-smith/pkg/analyzer/types"
	"github.com/wonderfulspam/model-smith/pkg/differ"
)

// AnalysisRegistry interface to avoid import cycles
type AnalysisRegistry interface {
	Register(name string, category types.Category, fn types.AnalysisFunc)
}

// RegisterAnalyses registers the analyses that track training metadata
func RegisterAnalyses(registry AnalysisRegistry) {
	registry.Register("learning_rate", types.CategoryTraining, AnalyzeLearningRate)
	registry.Register("optimizer", types.CategoryTraining, AnalyzeOptimizer)
	registry.Register("loss", types.CategoryTraining, AnalyzeLoss)
	registry.Register("accuracy", types.CategoryTraining, AnalyzeAccuracy)
	registry.Register("model_version", types.CategoryTraining, AnalyzeModelVersion)
}

var (
	learningRateKeys = []string{
		"learning_rate", "lr", "current_lr", "initial_lr", "base_lr",
		"optimizer.param_groups.0.lr", "optimizer_state_dict.param_groups.0.lr",
	}
	optimizerKeys = []string{"optimizer.type", "optimizer_type", "optimizer", "optimizer_name"}
	lossKeys      = []string{"loss", "train_loss", "training_loss", "val_loss"}
	accuracyKeys  = []string{"accuracy", "acc", "train_accuracy", "val_accuracy", "val_acc"}
	versionKeys   = []string{"model_version", "version", "__version__"}
)

func AnalyzeLearningRate(in *types.Input) (differ.Payload, bool) {
	return metricChange(in, "learning_rate", learningRateKeys, 0)
}

func AnalyzeLoss(in *types.Input) (differ.Payload, bool) {
	return metricChange(in, "loss", lossKeys, -1)
}

func AnalyzeAccuracy(in *types.Input) (differ.Payload, bool) {
	return metricChange(in, "accuracy", accuracyKeys, 1)
}

// metricChange finds the metric on both sides. better is the sign of a
// desirable change, or zero when neither direction is preferred.
func metricChange(in *types.Input, metric string, keys []string, better int) (differ.Payload, bool) {
	key, oldVal, ok := types.FindNumber(types.Metadata(in.Old), keys...)
	if !ok {
		return nil, false
	}
	_, newVal, ok := types.FindNumber(types.Metadata(in.New), keys...)
	if !ok || oldVal == newVal {
		return nil, false
	}

	delta := newVal - oldVal
	p := &types.MetricChange{
		Metric:   metric,
		Key:      key,
		Old:      oldVal,
		New:      newVal,
		Delta:    delta,
		Relative: delta / nonZero(oldVal),
		Trend:    types.ClassifyTrend(oldVal, newVal),
	}
	if better != 0 {
		improved := (better > 0) == (delta > 0)
		p.Improved = &improved
	}
	return p, true
}

func nonZero(x float64) float64 {
	if x < 0 {
		x = -x
	}
	if x < 1e-12 {
		return 1e-12
	}
	return x
}

func AnalyzeOptimizer(in *types.Input) (differ.Payload, bool) {
	return textChange(in, "optimizer", optimizerKeys)
}

func AnalyzeModelVersion(in *types.Input) (differ.Payload, bool) {
	return textChange(in, "model_version", versionKeys)
}

func textChange(in *types.Input, name string, keys []string) (differ.Payload, bool) {
	key, oldVal, ok := types.FindString(types.Metadata(in.Old), keys...)
	if !ok {
		return nil, false
	}
	_, newVal, ok := types.FindString(types.Metadata(in.New), keys...)
	if !ok || oldVal == newVal {
		return nil, false
	}
	return &types.TextChange{Name: name, Key: key, Old: oldVal, New: newVal}, true
}
