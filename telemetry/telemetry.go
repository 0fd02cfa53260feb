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


// Package telemetry records per-epoch training metrics.
package telemetry

import (
	"context"
	"errors"
	"fmt"

	log "github.com/golang/glog"
)

// Record holds the metrics of one epoch.
type Record struct {
	Epoch     int
	Steps     int64
	TrainLoss float64
	TrainAcc  float64
	TestLoss  float64
	TestAcc   float64
	// Epsilon is the privacy spent so far, or nil when training is not
	// private.
	Epsilon *float64
}

// Sink receives epoch records in order.
type Sink interface {
	Emit(ctx context.Context, r *Record) error
}

// Glog writes every record to the info log.
type Glog struct {
	Run string
}

func (g Glog) Emit(_ context.Context, r *Record) error {
	eps := "n/a"
	if r.Epsilon != nil {
		eps = fmt.Sprintf("%.3f", *r.Epsilon)
	}
	log.Infof("%s epoch %d (%d steps): train loss %.4f, train acc %.2f%%, test loss %.4f, test acc %.2f%%, ε = %s",
		g.Run, r.Epoch, r.Steps, r.TrainLoss, r.TrainAcc, r.TestLoss, r.TestAcc, eps)
	return nil
}

type multi []Sink

// Multi returns a Sink that emits to every sink in turn. All sinks see every
// record; their errors are joined.
func Multi(sinks ...Sink) Sink {
	return multi(sinks)
}

func (m multi) Emit(ctx context.Context, r *Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
