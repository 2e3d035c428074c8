// Copyright 2026 The Gyrid Server Authors
// SPDX-License-Identifier: Apache-2.0

package forward

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/Roel/Gyrid-server-sub000/lib/protocol"
)

// trailerLength is the size of the big-endian length that follows
// each record.
const trailerLength = 2

// ErrCorruptSpill is returned when a spill file's trailers do not
// describe a sequence of complete records.
var ErrCorruptSpill = errors.New("forward: corrupt spill file")

// Spill is the on-disk cache of messages that could not be delivered.
// Records are appended as payload followed by its uint16 big-endian
// length, so the file is read from the end: the newest record comes
// off first and the file is truncated behind it.
//
// A Spill is owned by a single forwarder. All access goes through one
// mutex, so a pop never observes a half-written append.
type Spill struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	count  int
	logger *slog.Logger
}

// OpenSpill opens or creates the spill file at path. An existing file
// is walked to count its records; if the walk finds it corrupt it is
// moved aside to path+".corrupt" and a fresh file is started.
func OpenSpill(path string, logger *slog.Logger) (*Spill, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating spill directory: %w", err)
	}

	file, count, err := openAndCount(path)
	if errors.Is(err, ErrCorruptSpill) {
		aside := path + ".corrupt"
		logger.Error("spill file corrupt, moving aside",
			"path", path,
			"moved_to", aside,
			"error", err,
		)
		if renameErr := os.Rename(path, aside); renameErr != nil {
			return nil, fmt.Errorf("moving corrupt spill file aside: %w", renameErr)
		}
		file, count, err = openAndCount(path)
	}
	if err != nil {
		return nil, err
	}
	return &Spill{path: path, file: file, count: count, logger: logger}, nil
}

func openAndCount(path string) (*os.File, int, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, 0, fmt.Errorf("opening spill file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, 0, fmt.Errorf("stat spill file: %w", err)
	}
	count := 0
	err = walkRecords(file, info.Size(), func(int64, int) error {
		count++
		return nil
	})
	if err != nil {
		file.Close()
		return nil, 0, err
	}
	return file, count, nil
}

// walkRecords visits each record of a spill file from the end to the
// start, passing the record's offset and length.
func walkRecords(r io.ReaderAt, size int64, visit func(offset int64, length int) error) error {
	var trailer [trailerLength]byte
	for end := size; end > 0; {
		if end < trailerLength {
			return fmt.Errorf("%w: %d stray bytes at start", ErrCorruptSpill, end)
		}
		if _, err := r.ReadAt(trailer[:], end-trailerLength); err != nil {
			return fmt.Errorf("reading spill trailer at %d: %w", end-trailerLength, err)
		}
		length := int64(binary.BigEndian.Uint16(trailer[:]))
		offset := end - trailerLength - length
		if offset < 0 {
			return fmt.Errorf("%w: record of %d bytes overruns start at %d", ErrCorruptSpill, length, end)
		}
		if err := visit(offset, int(length)); err != nil {
			return err
		}
		end = offset
	}
	return nil
}

// ReadRecords returns every record of the spill file at path, newest
// first, without modifying it.
func ReadRecords(path string) ([][]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return nil, err
	}
	var records [][]byte
	err = walkRecords(file, info.Size(), func(offset int64, length int) error {
		record := make([]byte, length)
		if _, err := file.ReadAt(record, offset); err != nil {
			return fmt.Errorf("reading spill record at %d: %w", offset, err)
		}
		records = append(records, record)
		return nil
	})
	return records, err
}

// Path returns the file path.
func (s *Spill) Path() string { return s.path }

// Len returns the number of records in the file.
func (s *Spill) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Append writes payloads to the end of the file and syncs it.
func (s *Spill) Append(payloads ...[]byte) error {
	var buffer []byte
	for _, payload := range payloads {
		if len(payload) > protocol.MaxFrameLength {
			return fmt.Errorf("spilling %d byte payload: %w", len(payload), protocol.ErrFrameTooLarge)
		}
		buffer = append(buffer, payload...)
		buffer = binary.BigEndian.AppendUint16(buffer, uint16(len(payload)))
	}
	if len(buffer) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return os.ErrClosed
	}
	if _, err := s.file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("seeking spill file: %w", err)
	}
	if _, err := s.file.Write(buffer); err != nil {
		return fmt.Errorf("appending to spill file: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("syncing spill file: %w", err)
	}
	s.count += len(payloads)
	return nil
}

// Pop removes and returns up to n records from the end of the file,
// newest first.
func (s *Spill) Pop(n int) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil, os.ErrClosed
	}
	info, err := s.file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat spill file: %w", err)
	}

	var records [][]byte
	stop := errors.New("batch full")
	newEnd := info.Size()
	err = walkRecords(s.file, info.Size(), func(offset int64, length int) error {
		if len(records) == n {
			return stop
		}
		record := make([]byte, length)
		if _, err := s.file.ReadAt(record, offset); err != nil {
			return fmt.Errorf("reading spill record at %d: %w", offset, err)
		}
		records = append(records, record)
		newEnd = offset
		return nil
	})
	if err != nil && !errors.Is(err, stop) {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	if err := s.file.Truncate(newEnd); err != nil {
		return nil, fmt.Errorf("truncating spill file: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return nil, fmt.Errorf("syncing spill file: %w", err)
	}
	s.count -= len(records)
	return records, nil
}

// Close closes the file. Records stay on disk for the next OpenSpill.
func (s *Spill) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
