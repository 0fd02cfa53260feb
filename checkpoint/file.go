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


package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"

	log "github.com/golang/glog"
)

// BestSuffix is appended to a checkpoint path to name the copy of the best
// epoch so far.
const BestSuffix = "_best"

// BestPath returns the path of the best copy of the checkpoint at path.
func BestPath(path string) string { return path + BestSuffix }

// Save writes r to path, replacing any previous checkpoint atomically. When
// isBest is set it also writes the same bytes to BestPath(path).
func Save(path string, r *Record, isBest bool) error {
	b, err := Marshal(r)
	if err != nil {
		return err
	}
	if err := writeAtomic(path, b); err != nil {
		return fmt.Errorf("checkpoint.Save: %w", err)
	}
	if isBest {
		if err := writeAtomic(BestPath(path), b); err != nil {
			return fmt.Errorf("checkpoint.Save: %w", err)
		}
	}
	log.V(1).Infof("Saved checkpoint of epoch %d to %s (best: %t)", r.Epoch, path, isBest)
	return nil
}

// Load reads the checkpoint at path.
func Load(path string) (*Record, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("checkpoint.Load: %w", err)
	}
	r, err := Unmarshal(b)
	if err != nil {
		return nil, fmt.Errorf("checkpoint.Load: %s: %w", path, err)
	}
	return r, nil
}

func writeAtomic(path string, b []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
