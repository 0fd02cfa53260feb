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

package dataset

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/bogdan-kulynych/Handcrafted-DP/features"
	"github.com/bogdan-kulynych/Handcrafted-DP/rand"
	"github.com/bogdan-kulynych/Handcrafted-DP/tensor"
	"github.com/google/go-cmp/cmp"
)

func idxBytes(t *testing.T, dims []uint32, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, idxUnsignedByte, byte(len(dims))})
	for _, d := range dims {
		if err := binary.Write(&buf, binary.BigEndian, d); err != nil {
			t.Fatal(err)
		}
	}
	buf.Write(data)
	return buf.Bytes()
}

func TestReadIDX(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	dims, got, err := readIDX(bytes.NewReader(idxBytes(t, []uint32{2, 2, 2}, data)))
	if err != nil {
		t.Fatalf("readIDX: %v", err)
	}
	if diff := cmp.Diff([]int{2, 2, 2}, dims); diff != "" {
		t.Errorf("readIDX dims mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(data, got); diff != "" {
		t.Errorf("readIDX data mismatch (-want +got):\n%s", diff)
	}
}

func TestReadIDXErrors(t *testing.T) {
	for _, tc := range []struct {
		desc string
		in   []byte
	}{
		{"empty", nil},
		{"bad magic", []byte{1, 0, 8, 1, 0, 0, 0, 1, 0}},
		{"float elements", []byte{0, 0, 0x0d, 1, 0, 0, 0, 1, 0}},
		{"truncated data", idxBytes(t, []uint32{4}, []byte{1, 2})},
	} {
		if _, _, err := readIDX(bytes.NewReader(tc.in)); err == nil {
			t.Errorf("readIDX(%s): got nil error, want error", tc.desc)
		}
	}
}

func TestLoadIDXGzipped(t *testing.T) {
	dir := filepath.Join(t.TempDir(), MNIST)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	pixels := make([]byte, 3*4*4)
	for i := range pixels {
		pixels[i] = byte(i * 5)
	}
	write := func(name string, b []byte) {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		zw.Write(b)
		zw.Close()
		if err := os.WriteFile(filepath.Join(dir, name+".gz"), buf.Bytes(), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("t10k-images-idx3-ubyte", idxBytes(t, []uint32{3, 4, 4}, pixels))
	write("t10k-labels-idx1-ubyte", idxBytes(t, []uint32{3}, []byte{7, 0, 9}))

	d, err := Load(MNIST, filepath.Dir(dir), false)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if d.Len() != 3 || d.Label(2) != 9 {
		t.Errorf("Load: got %d records with last label %d, want 3 records with last label 9", d.Len(), d.Label(2))
	}
	if diff := cmp.Diff([]int{1, 4, 4}, d.Shape); diff != "" {
		t.Errorf("Load shape mismatch (-want +got):\n%s", diff)
	}
	img := d.Image(1)
	if got, want := img.At(0, 0, 1), float64(17*5)/255; got != want {
		t.Errorf("Image(1) at (0,0,1) = %v, want %v", got, want)
	}
	if _, err := Load(MNIST, filepath.Dir(dir), true); err == nil {
		t.Errorf("Load of missing train split: got nil error, want error")
	}
}

func TestLoadCIFAR10(t *testing.T) {
	dir := filepath.Join(t.TempDir(), CIFAR10, "cifar-10-batches-bin")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	for _, label := range []byte{3, 8} {
		buf.WriteByte(label)
		img := make([]byte, cifarImageBytes)
		img[cifarSide*cifarSide] = 255 // first green pixel
		buf.Write(img)
	}
	if err := os.WriteFile(filepath.Join(dir, "test_batch.bin"), buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	d, err := Load(CIFAR10, filepath.Dir(filepath.Dir(dir)), false)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if d.Len() != 2 || d.Label(0) != 3 || d.Label(1) != 8 {
		t.Errorf("Load: got %d records, labels %d %d", d.Len(), d.Label(0), d.Label(1))
	}
	if got := d.Image(1).At(1, 0, 0); got != 1 {
		t.Errorf("green plane of record 1 at (0,0) = %v, want 1", got)
	}
	if _, _, err := readCIFAR(bytes.NewReader(make([]byte, 10))); err == nil {
		t.Errorf("readCIFAR of a truncated record: got nil error, want error")
	}
}

func TestNewValidates(t *testing.T) {
	for _, tc := range []struct {
		desc   string
		shape  []int
		pixels []byte
		labels []byte
	}{
		{"2-D shape", []int{2, 2}, make([]byte, 4), []byte{0}},
		{"short pixels", []int{1, 2, 2}, make([]byte, 3), []byte{0}},
		{"label out of range", []int{1, 1, 1}, make([]byte, 1), []byte{10}},
	} {
		if _, err := New("x", tc.shape, 10, tc.pixels, tc.labels); err == nil {
			t.Errorf("New: when %s got nil error, want error", tc.desc)
		}
	}
	if _, err := Load("imagenet", "", true); err == nil {
		t.Errorf("Load(imagenet): got nil error, want error")
	}
}

func TestSynthetic(t *testing.T) {
	opt := SyntheticOptions{N: 40, Classes: 4, Shape: []int{1, 4, 4}, Noise: 0.05}
	a, err := NewSynthetic(opt, rand.New(3), "train")
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewSynthetic(opt, rand.New(3), "train")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(a.Image(5).Data, b.Image(5).Data); diff != "" {
		t.Errorf("same seed gave different records (-a +b):\n%s", diff)
	}
	counts := make([]int, 4)
	for i := 0; i < a.Len(); i++ {
		counts[a.Label(i)]++
	}
	if diff := cmp.Diff([]int{10, 10, 10, 10}, counts); diff != "" {
		t.Errorf("class counts mismatch (-want +got):\n%s", diff)
	}
	train, err := Load(Synthetic, "", true)
	if err != nil {
		t.Fatal(err)
	}
	test, err := Load(Synthetic, "", false)
	if err != nil {
		t.Fatal(err)
	}
	if train.Len() != 1024 || test.Len() != 256 {
		t.Errorf("synthetic splits have %d and %d records, want 1024 and 256", train.Len(), test.Len())
	}
}

func TestInfo(t *testing.T) {
	for _, tc := range []struct {
		name    string
		shape   []int
		classes int
	}{
		{MNIST, []int{1, 28, 28}, 10},
		{FashionMNIST, []int{1, 28, 28}, 10},
		{CIFAR10, []int{3, 32, 32}, 10},
		{Synthetic, []int{1, 8, 8}, 4},
	} {
		shape, classes, err := Info(tc.name)
		if err != nil {
			t.Fatalf("Info(%s): %v", tc.name, err)
		}
		if diff := cmp.Diff(tc.shape, shape); diff != "" || classes != tc.classes {
			t.Errorf("Info(%s) = %v, %d, want %v, %d", tc.name, shape, classes, tc.shape, tc.classes)
		}
	}
	synthetic, err := Load(Synthetic, "", true)
	if err != nil {
		t.Fatal(err)
	}
	if shape, classes, _ := Info(Synthetic); !cmp.Equal(shape, synthetic.Shape) || classes != synthetic.Classes {
		t.Errorf("Info(synthetic) disagrees with the generated dataset")
	}
	if _, _, err := Info("svhn"); err == nil {
		t.Errorf("Info(svhn): got nil error, want error")
	}
}

func TestAugmentation(t *testing.T) {
	x := tensor.New(1, 3, 3)
	for i := range x.Data {
		x.Data[i] = float64(i + 1)
	}
	ctx := rand.New(1)
	if diff := cmp.Diff(x.Data, (Augmentation{}).Apply(x, ctx).Data); diff != "" {
		t.Errorf("empty augmentation changed the image (-want +got):\n%s", diff)
	}
	flipped := []float64{3, 2, 1, 6, 5, 4, 9, 8, 7}
	sawFlip, sawIdentity := false, false
	for i := 0; i < 64; i++ {
		got := (Augmentation{Flip: true}).Apply(x, ctx).Data
		switch {
		case cmp.Equal(got, flipped):
			sawFlip = true
		case cmp.Equal(got, x.Data):
			sawIdentity = true
		default:
			t.Fatalf("flip-only augmentation produced %v", got)
		}
	}
	if !sawFlip || !sawIdentity {
		t.Errorf("flip-only augmentation: saw flip %t, identity %t; want both", sawFlip, sawIdentity)
	}
	for i := 0; i < 64; i++ {
		got := (Augmentation{Pad: 1}).Apply(x, ctx)
		if !got.SameShape(x) {
			t.Fatalf("crop changed the shape to %v", got.Shape)
		}
		// The center pixel stays within the crop window.
		if c := got.At(0, 1, 1); c < 1 || c > 9 {
			t.Fatalf("center pixel after crop is %v", c)
		}
	}
}

func TestShuffled(t *testing.T) {
	s, err := NewShuffled(10, 3, rand.New(0))
	if err != nil {
		t.Fatal(err)
	}
	batches := s.Epoch()
	if len(batches) != 3 {
		t.Fatalf("Epoch() returned %d batches, want 3 (drop last)", len(batches))
	}
	seen := map[int]bool{}
	for _, b := range batches {
		if len(b) != 3 {
			t.Errorf("batch of size %d, want 3", len(b))
		}
		for _, i := range b {
			if seen[i] {
				t.Errorf("record %d appears twice", i)
			}
			seen[i] = true
		}
	}
	if s.SampleRate() != 0.3 || s.ExpectedBatchSize() != 3 {
		t.Errorf("SampleRate() = %v, ExpectedBatchSize() = %v", s.SampleRate(), s.ExpectedBatchSize())
	}
	if _, err := NewShuffled(2, 3, rand.New(0)); err == nil {
		t.Errorf("NewShuffled with batch larger than data: got nil error, want error")
	}
}

func TestPoisson(t *testing.T) {
	p, err := NewPoisson(1000, 0.05, rand.New(0))
	if err != nil {
		t.Fatal(err)
	}
	total := 0
	for e := 0; e < 10; e++ {
		batches := p.Epoch()
		if len(batches) != 20 {
			t.Fatalf("Epoch() returned %d batches, want 20", len(batches))
		}
		for _, b := range batches {
			if !sort.IntsAreSorted(b) {
				t.Errorf("batch indices are not ascending")
			}
			total += len(b)
		}
	}
	mean := float64(total) / 200
	// Standard error of the mean batch size is sqrt(1000·0.05·0.95/200) ≈ 0.49.
	if math.Abs(mean-50) > 3 {
		t.Errorf("mean Poisson batch size %v, want about 50", mean)
	}
	if _, err := NewPoisson(1000, 0, rand.New(0)); err == nil {
		t.Errorf("NewPoisson with rate 0: got nil error, want error")
	}
}

func TestStepsPerEpoch(t *testing.T) {
	for _, tc := range []struct {
		desc           string
		n, batch, mini int
		poisson        bool
		want           int
	}{
		{"exact accumulation", 1024, 64, 32, false, 16},
		{"partial last group steps", 1024, 96, 32, false, 11},
		{"partial physical batch dropped", 1000, 64, 64, false, 15},
		{"cifar defaults", 50000, 2048, 256, false, 25},
		{"poisson", 1000, 50, 50, true, 20},
		{"mini batch larger than data", 10, 32, 32, false, 0},
	} {
		if got := StepsPerEpoch(tc.n, tc.batch, tc.mini, tc.poisson); got != tc.want {
			t.Errorf("%s: StepsPerEpoch(%d, %d, %d, %t) = %d, want %d", tc.desc, tc.n, tc.batch, tc.mini, tc.poisson, got, tc.want)
		}
	}
}

func TestStepsPerEpochMatchesSamplers(t *testing.T) {
	s, err := NewShuffled(1024, 32, rand.New(0))
	if err != nil {
		t.Fatal(err)
	}
	// Three physical batches of 32 per logical batch of 96.
	if got, want := (len(s.Epoch())+2)/3, StepsPerEpoch(1024, 96, 32, false); got != want {
		t.Errorf("Shuffled logical batches = %d, StepsPerEpoch = %d", got, want)
	}
	p, err := NewPoisson(1000, 50.0/1000, rand.New(0))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(p.Epoch()), StepsPerEpoch(1000, 50, 50, true); got != want {
		t.Errorf("Poisson batches = %d, StepsPerEpoch = %d", got, want)
	}
}

func TestSequential(t *testing.T) {
	got := Sequential(5, 2)
	want := [][]int{{0, 1}, {2, 3}, {4}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Sequential(5, 2) mismatch (-want +got):\n%s", diff)
	}
}

func TestPrecompute(t *testing.T) {
	d, err := NewSynthetic(SyntheticOptions{N: 9, Classes: 3, Shape: []int{1, 8, 8}}, rand.New(0), "train")
	if err != nil {
		t.Fatal(err)
	}
	f, err := Precompute(context.Background(), d, features.Scattering{}, 4)
	if err != nil {
		t.Fatalf("Precompute: %v", err)
	}
	if diff := cmp.Diff([]int{16, 2, 2}, f.Shape); diff != "" {
		t.Errorf("Precompute shape mismatch (-want +got):\n%s", diff)
	}
	for i := 0; i < d.Len(); i++ {
		want, err := features.Scattering{}.Extract(d.Image(i))
		if err != nil {
			t.Fatal(err)
		}
		got, err := f.Sample(i)
		if err != nil {
			t.Fatal(err)
		}
		for j := range want.Data {
			if math.Abs(got.Data[j]-want.Data[j]) > 1e-6 {
				t.Fatalf("record %d feature %d = %v, want %v", i, j, got.Data[j], want.Data[j])
			}
		}
		if f.Label(i) != d.Label(i) {
			t.Errorf("record %d label %d, want %d", i, f.Label(i), d.Label(i))
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Precompute(ctx, d, features.Identity{}, 1); err == nil {
		t.Errorf("Precompute with cancelled context: got nil error, want error")
	}
}
