// Copyright 2026 The Gyrid Server Authors
// SPDX-License-Identifier: Apache-2.0

package model

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/Roel/Gyrid-server-sub000/lib/codec"
)

// The state file is a single zstd frame holding the CBOR encoding of
// a Snapshot.

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("model: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("model: zstd decoder initialization failed: " + err.Error())
	}
}

// WriteState atomically replaces the state file at path with
// snapshot. The file is written to a temporary sibling, fsynced and
// renamed into place, so readers never see a partial write. Missing
// parent directories are created.
func WriteState(path string, snapshot *Snapshot) error {
	encoded, err := codec.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	data := zstdEncoder.EncodeAll(encoded, nil)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	temporaryPath := path + ".tmp"
	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating temporary state file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary state file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary state file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary state file: %w", err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming state file into place: %w", err)
	}

	// Make the rename durable.
	if parentDirectory, err := os.Open(filepath.Dir(path)); err == nil {
		parentDirectory.Sync()
		parentDirectory.Close()
	}
	return nil
}

// ReadState loads a snapshot written by WriteState. A missing file
// returns an error wrapping os.ErrNotExist.
func ReadState(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	decoded, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing state file %s: %w", path, err)
	}
	var snapshot Snapshot
	if err := codec.Unmarshal(decoded, &snapshot); err != nil {
		return nil, fmt.Errorf("decoding state file %s: %w", path, err)
	}
	if snapshot.Projects == nil {
		snapshot.Projects = make(map[string]*Project)
	}
	if snapshot.Locations == nil {
		snapshot.Locations = make(map[string]*Location)
	}
	snapshot.index()
	return &snapshot, nil
}
