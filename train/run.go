//
// Copyright 2026 The Handcrafted-DP Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//


package train

import (
	"context"
	"errors"
	"fmt"

	"github.com/bogdan-kulynych/Handcrafted-DP/checkpoint"
	"github.com/bogdan-kulynych/Handcrafted-DP/dataset"
	"github.com/bogdan-kulynych/Handcrafted-DP/optim"
	"github.com/bogdan-kulynych/Handcrafted-DP/rand"
	"github.com/bogdan-kulynych/Handcrafted-DP/rdp"
	"github.com/bogdan-kulynych/Handcrafted-DP/telemetry"
	"github.com/bogdan-kulynych/Handcrafted-DP/tensor"
	log "github.com/golang/glog"
)

// Run trains until the configured number of epochs is reached, the privacy
// budget is exhausted or test accuracy plateaus. Cancellation of ctx is
// observed between logical batches; the current epoch is then abandoned and
// not checkpointed.
func (t *Trainer) Run(ctx context.Context) (*Result, error) {
	if t.resumed {
		spent, err := t.spent()
		if err != nil {
			return nil, err
		}
		if stop, ok := t.stopReason(spent); ok {
			log.Infof("Resumed run has already stopped: %v", stop)
			return t.result(stop, spent), nil
		}
	}
	log.V(1).Infof("Training for up to %d epochs of %d steps", t.cfg.Epochs, t.StepsPerEpoch())
	var spent *rdp.Spent
	for t.epoch < t.cfg.Epochs {
		rec, err := t.runEpoch(ctx, t.epoch)
		if err != nil {
			return nil, fmt.Errorf("train.Run: epoch %d: %w", t.epoch, err)
		}
		if spent, err = t.spent(); err != nil {
			return nil, fmt.Errorf("train.Run: %w", err)
		}
		if spent != nil {
			rec.Epsilon = &spent.Epsilon
			log.Infof("ε = %.3f (sgd only: ε = %.3f) at δ = %g after %d steps", spent.Epsilon, spent.SGDEpsilon, t.cfg.Delta, t.steps)
		}
		if err := t.sink.Emit(ctx, rec); err != nil {
			return nil, fmt.Errorf("train.Run: %w", err)
		}
		isBest := t.observe(rec.TestAcc)
		t.lastAcc, t.lastEps = rec.TestAcc, rec.Epsilon
		t.epoch++
		if err := t.save(isBest); err != nil {
			return nil, fmt.Errorf("train.Run: %w", err)
		}
		if stop, ok := t.stopReason(spent); ok {
			log.Infof("Stopping after epoch %d: %v", t.epoch-1, stop)
			return t.result(stop, spent), nil
		}
	}
	if spent == nil {
		var err error
		if spent, err = t.spent(); err != nil {
			return nil, fmt.Errorf("train.Run: %w", err)
		}
	}
	return t.result(StopEpochsExhausted, spent), nil
}

// spent returns the privacy guarantee after the steps taken so far, or nil
// for non-private training.
func (t *Trainer) spent() (*rdp.Spent, error) {
	if t.accountant == nil {
		return nil, nil
	}
	s, err := t.accountant.Spent(t.steps)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// observe records the test accuracy of an epoch and reports whether it is
// the best so far. Any other epoch counts towards a plateau.
func (t *Trainer) observe(acc float64) bool {
	if acc > t.bestAcc {
		t.bestAcc, t.flat = acc, 0
		return true
	}
	t.flat++
	return false
}

func (t *Trainer) stopReason(spent *rdp.Spent) (StopReason, bool) {
	if spent != nil && t.cfg.MaxEpsilon > 0 && spent.Epsilon >= t.cfg.MaxEpsilon {
		return StopBudgetExhausted, true
	}
	if t.cfg.EarlyStop && t.flat >= t.cfg.PlateauWindow {
		return StopPlateau, true
	}
	return StopEpochsExhausted, false
}

func (t *Trainer) result(stop StopReason, spent *rdp.Spent) *Result {
	return &Result{
		Stop:       stop,
		Epochs:     t.epoch,
		Steps:      t.steps,
		TestAcc:    t.lastAcc,
		BestAcc:    t.bestAcc,
		Spent:      spent,
		RunID:      t.runID,
		Checkpoint: t.ckptPath,
	}
}

func (t *Trainer) save(isBest bool) error {
	return checkpoint.Save(t.ckptPath, &checkpoint.Record{
		Epoch:     t.epoch,
		ModelTag:  t.model.Tag,
		Params:    t.model.State(),
		Optimizer: t.optimizer.Updater().State(),
		TestAcc:   t.lastAcc,
		BestAcc:   t.bestAcc,
		Steps:     t.steps,
		FlatCount: t.flat,
		Epsilon:   t.lastEps,
		RunID:     t.runID,
	}, isBest)
}

// newSampler returns the batch sampler of one epoch.
func (t *Trainer) newSampler(ctx *rand.Context) (dataset.Sampler, error) {
	if t.poisson() {
		return dataset.NewPoisson(t.trainLen(), t.sampleRate, ctx)
	}
	return dataset.NewShuffled(t.trainLen(), t.cfg.MiniBatchSize, ctx)
}

// runEpoch trains for one epoch and evaluates the result. Every epoch draws
// its batches, augmentations and noise from streams named after the epoch,
// so a resumed run repeats what an uninterrupted run would have done.
func (t *Trainer) runEpoch(ctx context.Context, epoch int) (*telemetry.Record, error) {
	ectx := t.root.Child(fmt.Sprintf("epoch-%d", epoch))
	sampler, err := t.newSampler(ectx.Child("batches"))
	if err != nil {
		return nil, err
	}
	if err := t.noise.reset(epoch); err != nil {
		return nil, err
	}
	augCtx := ectx.Child("augment")
	batches := sampler.Epoch()
	accSteps := t.cfg.AccumulationSteps()

	var (
		lossSum float64
		correct int
		seen    int
	)
	for i, batch := range batches {
		if i%accSteps == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if len(batch) > 0 {
			xs, labels, err := t.trainBatch(batch, augCtx)
			if err != nil {
				return nil, err
			}
			g, err := t.model.PerSampleGrads(xs, labels, t.workers)
			if err != nil {
				return nil, err
			}
			for j := range g.Losses {
				lossSum += g.Losses[j]
				if g.Correct[j] {
					correct++
				}
			}
			seen += len(batch)
			if err := t.optimizer.ComputeStep(&optim.GradBatch{Grads: g.Grads}); err != nil {
				return nil, err
			}
		}
		if (i+1)%accSteps != 0 && i != len(batches)-1 {
			continue
		}
		err := t.optimizer.ApplyStep(t.model.Params(), t.steps+1)
		if errors.Is(err, optim.ErrEmptyBatch) {
			log.Warningf("Skipping empty batch %d of epoch %d", i, epoch)
			continue
		}
		if err != nil {
			return nil, err
		}
		t.steps++
		if st := t.optimizer.LastStep(); log.V(2) {
			log.Infof("Step %d: %d samples, %d clipped, mean gradient norm %.4f", t.steps, st.Samples, st.Clipped, st.MeanNorm)
		}
	}
	rec := &telemetry.Record{Epoch: epoch, Steps: t.steps}
	if seen > 0 {
		rec.TrainLoss = lossSum / float64(seen)
		rec.TrainAcc = 100 * float64(correct) / float64(seen)
	}
	if rec.TestLoss, rec.TestAcc, err = t.evaluate(ctx); err != nil {
		return nil, err
	}
	return rec, nil
}

// trainBatch returns the model inputs of a batch. Augmented records are
// transformed one at a time in batch order, then passed through the
// feature extractor.
func (t *Trainer) trainBatch(batch []int, augCtx *rand.Context) ([]*tensor.Tensor, []int, error) {
	xs := make([]*tensor.Tensor, len(batch))
	labels := make([]int, len(batch))
	for j, idx := range batch {
		if t.rawTrain == nil {
			x, err := t.train.Sample(idx)
			if err != nil {
				return nil, nil, err
			}
			xs[j], labels[j] = x, t.train.Label(idx)
			continue
		}
		x, err := t.rawTrain.Sample(idx)
		if err != nil {
			return nil, nil, err
		}
		f, err := t.extractor.Extract(t.augment.Apply(x, augCtx))
		if err != nil {
			return nil, nil, err
		}
		xs[j], labels[j] = f, t.rawTrain.Label(idx)
	}
	return xs, labels, nil
}

// evaluate returns the mean loss and the accuracy in percent on the test
// split. Evaluation is not accounted for.
func (t *Trainer) evaluate(ctx context.Context) (float64, float64, error) {
	var (
		lossSum float64
		correct int
	)
	for _, batch := range dataset.Sequential(t.test.Len(), t.cfg.MiniBatchSize) {
		if err := ctx.Err(); err != nil {
			return 0, 0, err
		}
		xs := make([]*tensor.Tensor, len(batch))
		labels := make([]int, len(batch))
		for j, idx := range batch {
			x, err := t.test.Sample(idx)
			if err != nil {
				return 0, 0, err
			}
			xs[j], labels[j] = x, t.test.Label(idx)
		}
		l, c, err := t.model.Evaluate(xs, labels, t.workers)
		if err != nil {
			return 0, 0, err
		}
		lossSum += l
		correct += c
	}
	n := float64(t.test.Len())
	return lossSum / n, 100 * float64(correct) / n, nil
}
