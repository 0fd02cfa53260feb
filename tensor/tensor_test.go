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

package tensor

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestIndexing(t *testing.T) {
	x := New(2, 3, 4)
	x.Set(7, 1, 2, 3)
	x.Set(5, 0, 1, 0)
	if got := x.Data[1*12+2*4+3]; got != 7 {
		t.Errorf("Set(1,2,3) wrote %v at row-major offset, want 7", got)
	}
	if got := x.At(0, 1, 0); got != 5 {
		t.Errorf("At(0,1,0) = %v, want 5", got)
	}
	if x.Len() != 24 {
		t.Errorf("Len() = %d, want 24", x.Len())
	}
}

func TestIndexingPanicsOutOfBounds(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("At with out-of-bounds index did not panic")
		}
	}()
	New(2, 2).At(2, 0)
}

func TestFromDataAndReshape(t *testing.T) {
	x, err := FromData([]float64{1, 2, 3, 4, 5, 6}, 2, 3)
	if err != nil {
		t.Fatalf("FromData: %v", err)
	}
	y, err := x.Reshape(3, 2)
	if err != nil {
		t.Fatalf("Reshape: %v", err)
	}
	y.Data[0] = 10
	if x.At(0, 0) != 10 {
		t.Errorf("Reshape did not share data")
	}
	if _, err := x.Reshape(4, 2); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("Reshape(4, 2): got %v, want ErrShapeMismatch", err)
	}
	if _, err := FromData([]float64{1}, 2); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("FromData with wrong length: got %v, want ErrShapeMismatch", err)
	}
}

func TestCloneAndAdd(t *testing.T) {
	x, _ := FromData([]float64{1, 2, 3}, 3)
	c := x.Clone()
	c.Data[0] = 100
	if x.Data[0] != 1 {
		t.Errorf("Clone shares data")
	}
	sum, err := Add(x, x)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if diff := cmp.Diff([]float64{2, 4, 6}, sum.Data); diff != "" {
		t.Errorf("Add mismatch (-want +got):\n%s", diff)
	}
	if _, err := Add(x, New(2)); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("Add with mismatched shapes: got %v, want ErrShapeMismatch", err)
	}
}
