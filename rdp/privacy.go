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

package rdp

import (
	"fmt"
	"math"

	"github.com/bogdan-kulynych/Handcrafted-DP/checks"
)

// PrivacySpent converts an accumulated RDP vector into an (ε, δ) guarantee
// using ε = RDP(α) − log(δ) / (α − 1), minimized over the orders. It returns
// the minimal ε and the order achieving it.
//
// If no order yields a number, PrivacySpent returns (+∞, NaN, nil).
func PrivacySpent(v Vector, orders []float64, delta float64) (epsilon, order float64, err error) {
	if err := checks.CheckDeltaStrict("PrivacySpent", delta); err != nil {
		return 0, 0, err
	}
	if err := checks.CheckOrders("PrivacySpent", orders); err != nil {
		return 0, 0, err
	}
	if len(v) != len(orders) {
		return 0, 0, fmt.Errorf("PrivacySpent: got %d divergences for %d orders", len(v), len(orders))
	}
	logDelta := math.Log(delta)
	epsilon, order = math.Inf(1), math.NaN()
	found := false
	for i, alpha := range orders {
		eps := v[i] - logDelta/(alpha-1)
		if math.IsNaN(eps) {
			continue
		}
		if !found || eps < epsilon {
			epsilon, order, found = eps, alpha, true
		}
	}
	if !found {
		return math.Inf(1), math.NaN(), nil
	}
	return epsilon, order, nil
}
