// Package train runs the epoch loop: stochastic gradient descent over the
// training windows, per-epoch metrics in physical units, and a final
// de-normalized prediction pass over the test windows.
package train

import (
	"context"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"

	"github.com/cheggaaa/pb/v3"
	"go.uber.org/zap"

	"github.com/herclab/quakecast/pkg/eval"
	"github.com/herclab/quakecast/pkg/model"
	"github.com/herclab/quakecast/pkg/preprocess"
)

// Partition names used in Results.EvalSplit.
const (
	SplitValidation = "validation"
	SplitTest       = "test"
)

// Results accumulates the metrics of a training run. All metrics are
// computed after mapping predictions back to physical units.
type Results struct {
	Epochs int `yaml:"epochs"`

	// TrainLoss is the mean normalized squared error seen by the optimiser
	// in each epoch.
	TrainLoss []float64 `yaml:"train_loss"`
	TrainRMSE []float64 `yaml:"train_rmse"`
	TrainR2   []float64 `yaml:"train_r2"`

	// EvalSplit names the partition behind EvalRMSE and EvalR2: the
	// validation partition when there is one, otherwise test.
	EvalSplit string    `yaml:"eval_split"`
	EvalRMSE  []float64 `yaml:"eval_rmse"`
	EvalR2    []float64 `yaml:"eval_r2"`

	// TestPred[i] is the flattened [step][channel] forecast for test
	// window i, in physical units.
	TestPred [][]float64 `yaml:"test_pred"`
	Test     eval.Metrics `yaml:"test"`
}

// BestEvalRMSE returns the lowest per-epoch eval RMSE.
func (r *Results) BestEvalRMSE() float64 {
	best := math.Inf(1)
	for _, v := range r.EvalRMSE {
		if v < best {
			best = v
		}
	}
	return best
}

// Loop trains a model on a normalized dataset.
type Loop struct {
	Epochs       int
	LearningRate float64

	// Rand shuffles the training windows every epoch.
	Rand *rand.Rand

	Logger *zap.SugaredLogger

	// Progress draws an epoch progress bar on ProgressOutput, stderr when
	// nil.
	Progress       bool
	ProgressOutput io.Writer
}

// Run trains m for l.Epochs epochs and returns the finalized results.
func (l *Loop) Run(ctx context.Context, m model.Model, ds *preprocess.Dataset) (*Results, error) {
	if l.Epochs < 1 {
		return nil, fmt.Errorf("epochs must be >= 1, got %d", l.Epochs)
	}
	if l.Rand == nil {
		return nil, fmt.Errorf("training loop needs a random source")
	}
	log := l.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	res := &Results{EvalSplit: SplitTest}
	evalX, evalY := ds.XTest, ds.YTest
	if ds.HasValidation() {
		res.EvalSplit = SplitValidation
		evalX, evalY = ds.XVal, ds.YVal
	}

	if f, ok := m.(model.Fitter); ok {
		if err := f.Fit(rows(ds.XTrain), rows(ds.YTrain)); err != nil {
			return nil, err
		}
		log.Debugw("closed-form fit done", "model", m.Kind())
	}

	var bar *pb.ProgressBar
	if l.Progress {
		out := l.ProgressOutput
		if out == nil {
			out = os.Stderr
		}
		bar = pb.New(l.Epochs).SetWriter(out)
		bar.Set("prefix", "epochs ")
		bar.Start()
		defer bar.Finish()
	}

	order := make([]int, ds.XTrain.Windows)
	for i := range order {
		order[i] = i
	}

	for epoch := 0; epoch < l.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		l.Rand.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		loss := 0.0
		for _, w := range order {
			step, err := m.Train(ds.XTrain.Window(w), ds.YTrain.Window(w), l.LearningRate)
			if err != nil {
				return nil, fmt.Errorf("epoch %d window %d: %w", epoch, w, err)
			}
			loss += step
		}
		loss /= float64(len(order))
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			return nil, fmt.Errorf("training diverged at epoch %d (loss %v); lower the learning rate", epoch, loss)
		}

		_, trainScore, err := Evaluate(m, ds.XTrain, ds.YTrain, ds.ScalerY)
		if err != nil {
			return nil, err
		}
		_, evalScore, err := Evaluate(m, evalX, evalY, ds.ScalerY)
		if err != nil {
			return nil, err
		}

		res.TrainLoss = append(res.TrainLoss, loss)
		res.TrainRMSE = append(res.TrainRMSE, trainScore.RMSE)
		res.TrainR2 = append(res.TrainR2, trainScore.R2)
		res.EvalRMSE = append(res.EvalRMSE, evalScore.RMSE)
		res.EvalR2 = append(res.EvalR2, evalScore.R2)
		res.Epochs++

		log.Debugw("epoch done",
			"epoch", epoch+1,
			"loss", loss,
			"train_rmse", trainScore.RMSE,
			res.EvalSplit+"_rmse", evalScore.RMSE)
		if bar != nil {
			bar.Increment()
		}
	}

	pred, testScore, err := Evaluate(m, ds.XTest, ds.YTest, ds.ScalerY)
	if err != nil {
		return nil, err
	}
	res.TestPred = rows(pred)
	res.Test = testScore

	log.Infow("training finished",
		"model", m.Kind(),
		"epochs", res.Epochs,
		"test_rmse", testScore.RMSE,
		"test_r2", testScore.R2)

	return res, nil
}

// Predict runs m over every window of x and returns the normalized
// predictions as a tensor of forecast steps.
func Predict(m model.Model, x *preprocess.Tensor) (*preprocess.Tensor, error) {
	shape := m.Shape()
	out := preprocess.NewTensor(x.Windows, shape.Forecast, shape.Channels)
	for w := 0; w < x.Windows; w++ {
		p, err := m.Predict(x.Window(w))
		if err != nil {
			return nil, fmt.Errorf("window %d: %w", w, err)
		}
		copy(out.Window(w), p)
	}
	return out, nil
}

// Evaluate predicts every window of x, maps predictions and targets back to
// physical units with scaler, and scores them. The returned predictions are
// in physical units.
func Evaluate(m model.Model, x, y *preprocess.Tensor, scaler *preprocess.Scaler) (*preprocess.Tensor, eval.Metrics, error) {
	pred, err := Predict(m, x)
	if err != nil {
		return nil, eval.Metrics{}, err
	}
	pred = scaler.Inverse(pred)
	truth := scaler.Inverse(y)
	return pred, eval.Score(pred.Data, truth.Data), nil
}

// rows copies every window of t into its own slice.
func rows(t *preprocess.Tensor) [][]float64 {
	out := make([][]float64, t.Windows)
	for w := range out {
		out[w] = append([]float64(nil), t.Window(w)...)
	}
	return out
}
