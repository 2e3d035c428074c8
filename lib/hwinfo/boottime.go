// Copyright 2026 The Gyrid Server Authors
// SPDX-License-Identifier: Apache-2.0

package hwinfo

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrNoBootTime is returned where /proc/stat is missing or has no
// btime line.
var ErrNoBootTime = errors.New("hwinfo: boot time not available")

// BootTime returns when the host booted.
func BootTime() (time.Time, error) {
	return readBootTime("/proc/stat")
}

// readBootTime parses the "btime <unix seconds>" line of a file in
// /proc/stat format.
func readBootTime(path string) (time.Time, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return time.Time{}, ErrNoBootTime
		}
		return time.Time{}, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 2 || fields[0] != "btime" {
			continue
		}
		seconds, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("hwinfo: parsing btime %q: %w", fields[1], err)
		}
		return time.Unix(seconds, 0), nil
	}
	if err := scanner.Err(); err != nil {
		return time.Time{}, err
	}
	return time.Time{}, ErrNoBootTime
}
