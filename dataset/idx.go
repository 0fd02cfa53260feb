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
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

const (
	idxUnsignedByte = 0x08
	maxIDXRecords   = 1 << 24
)

func loadIDX(name, dir string, train bool) (*Dataset, error) {
	prefix := "t10k"
	if train {
		prefix = "train"
	}
	imgDims, pixels, err := readIDXFile(filepath.Join(dir, prefix+"-images-idx3-ubyte"))
	if err != nil {
		return nil, err
	}
	lblDims, labels, err := readIDXFile(filepath.Join(dir, prefix+"-labels-idx1-ubyte"))
	if err != nil {
		return nil, err
	}
	if len(imgDims) != 3 || len(lblDims) != 1 || imgDims[0] != lblDims[0] {
		return nil, fmt.Errorf("dataset %s: image dimensions %v do not match label dimensions %v", name, imgDims, lblDims)
	}
	return New(name, []int{1, imgDims[1], imgDims[2]}, 10, pixels, labels)
}

// readIDXFile reads path, or path.gz if path does not exist.
func readIDXFile(path string) ([]int, []uint8, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		var gzErr error
		if f, gzErr = os.Open(path + ".gz"); gzErr != nil {
			return nil, nil, err
		}
		defer f.Close()
		zr, err := gzip.NewReader(bufio.NewReader(f))
		if err != nil {
			return nil, nil, fmt.Errorf("dataset: %s.gz: %w", path, err)
		}
		defer zr.Close()
		return readIDX(zr)
	}
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	dims, data, err := readIDX(bufio.NewReader(f))
	if err != nil {
		return nil, nil, fmt.Errorf("dataset: %s: %w", path, err)
	}
	return dims, data, nil
}

// readIDX decodes an IDX file of unsigned bytes: a 4-byte magic number
// (two zero bytes, the element type, the number of dimensions), one
// big-endian uint32 per dimension, then the data.
func readIDX(r io.Reader) ([]int, []uint8, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, nil, fmt.Errorf("reading IDX header: %w", err)
	}
	if magic[0] != 0 || magic[1] != 0 || magic[2] != idxUnsignedByte || magic[3] == 0 {
		return nil, nil, fmt.Errorf("bad IDX magic number %x", magic)
	}
	dims := make([]int, magic[3])
	size := 1
	for i := range dims {
		var d uint32
		if err := binary.Read(r, binary.BigEndian, &d); err != nil {
			return nil, nil, fmt.Errorf("reading IDX dimension %d: %w", i, err)
		}
		dims[i] = int(d)
		size *= dims[i]
		if size > maxIDXRecords*4096 {
			return nil, nil, fmt.Errorf("IDX dimensions %v are too large", dims[:i+1])
		}
	}
	data := make([]uint8, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, nil, fmt.Errorf("reading IDX data: %w", err)
	}
	return dims, data, nil
}
