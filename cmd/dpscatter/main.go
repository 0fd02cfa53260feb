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


// dpscatter trains image classifiers on scattering features with
// differentially private SGD, and inspects the privacy accounting,
// checkpoints and run history of past runs.
//
// Usage examples:
//
//	dpscatter train --dataset=cifar10 --use_scattering --input_norm=BN --noise_multiplier=1.54 --max_epsilon=3
//	dpscatter epsilon --dataset_size=50000 --batch_size=8192 --noise_multiplier=5.67 --epochs=60
//	dpscatter inspect out/cifar10_scatternet_1.54/model_0
//	dpscatter history cifar10_scatternet_1.54
//
// Logging is configured with the glog flags, e.g. --logtostderr --v=1.
package main

import (
	"context"
	"errors"

	log "github.com/golang/glog"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Exit("Interrupted")
		}
		log.Exitf("%v", err)
	}
}
