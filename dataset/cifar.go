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
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const (
	cifarSide         = 32
	cifarChannels     = 3
	cifarImageBytes   = cifarChannels * cifarSide * cifarSide
	cifarRecordBytes  = 1 + cifarImageBytes
	cifarTrainBatches = 5
)

func loadCIFAR10(dir string, train bool) (*Dataset, error) {
	files := []string{"test_batch.bin"}
	if train {
		files = files[:0]
		for i := 1; i <= cifarTrainBatches; i++ {
			files = append(files, fmt.Sprintf("data_batch_%d.bin", i))
		}
	}
	var pixels, labels []uint8
	for _, name := range files {
		p, l, err := readCIFARFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		pixels = append(pixels, p...)
		labels = append(labels, l...)
	}
	return New(CIFAR10, []int{cifarChannels, cifarSide, cifarSide}, 10, pixels, labels)
}

func readCIFARFile(path string) ([]uint8, []uint8, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	pixels, labels, err := readCIFAR(bufio.NewReader(f))
	if err != nil {
		return nil, nil, fmt.Errorf("dataset: %s: %w", path, err)
	}
	return pixels, labels, nil
}

// readCIFAR decodes CIFAR-10 binary records: one label byte followed by the
// red, green and blue planes of a 32×32 image.
func readCIFAR(r io.Reader) (pixels, labels []uint8, err error) {
	rec := make([]byte, cifarRecordBytes)
	for {
		_, err := io.ReadFull(r, rec)
		if err == io.EOF {
			return pixels, labels, nil
		}
		if err != nil {
			return nil, nil, fmt.Errorf("reading CIFAR-10 record %d: %w", len(labels), err)
		}
		labels = append(labels, rec[0])
		pixels = append(pixels, rec[1:]...)
	}
}
