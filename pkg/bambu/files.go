// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bambu

import (
	"bufio"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/Thermoquad/bambustat/pkg/printer"
)

// PrintableFile reports whether name has an extension the printer can start.
func PrintableFile(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".3mf", ".gcode":
		return true
	}
	return false
}

// DecodeFileListing parses Unix style LIST output, e.g.
//
//	-rw-rw-rw- 1 root root 2345678 Mar 02 11:40 benchy.gcode.3mf
//
// Only regular files with a printable extension are kept. Reading stops as
// soon as max entries have been collected; max <= 0 means no limit. Lines
// that do not parse are skipped.
func DecodeFileListing(r io.Reader, max int) ([]printer.File, error) {
	return decodeFileListing(r, max, time.Now())
}

func decodeFileListing(r io.Reader, max int, now time.Time) ([]printer.File, error) {
	files := []printer.File{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		f, ok := parseListLine(scanner.Text(), now)
		if !ok || !PrintableFile(f.Name) {
			continue
		}
		files = append(files, f)
		if max > 0 && len(files) >= max {
			return files, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return files, fmt.Errorf("failed to read file listing: %w", err)
	}
	return files, nil
}

// parseListLine splits one LIST line into its nine columns. The name is
// everything after the time column so names containing spaces survive.
func parseListLine(line string, now time.Time) (printer.File, bool) {
	line = strings.TrimRight(line, "\r")
	if line == "" || line[0] != '-' {
		return printer.File{}, false
	}

	rest := line
	var cols [8]string
	for i := range cols {
		rest = strings.TrimLeft(rest, " \t")
		end := strings.IndexAny(rest, " \t")
		if end < 0 {
			return printer.File{}, false
		}
		cols[i] = rest[:end]
		rest = rest[end:]
	}
	name := strings.TrimLeft(rest, " \t")
	if name == "" {
		return printer.File{}, false
	}

	size, err := strconv.ParseInt(cols[4], 10, 64)
	if err != nil || size < 0 {
		return printer.File{}, false
	}

	return printer.File{
		Name:    name,
		Size:    size,
		ModTime: parseListTime(cols[5], cols[6], cols[7], now),
	}, true
}

// parseListTime handles both "Mar 02 11:40" (within the last six months,
// year omitted) and "Mar 02 2024". Unparseable dates yield the zero time.
func parseListTime(month, day, clock string, now time.Time) time.Time {
	if strings.Contains(clock, ":") {
		t, err := time.Parse("Jan 2 15:04", month+" "+day+" "+clock)
		if err != nil {
			return time.Time{}
		}
		t = time.Date(now.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, time.UTC)
		if t.After(now.AddDate(0, 0, 1)) {
			t = t.AddDate(-1, 0, 0)
		}
		return t
	}
	t, err := time.Parse("Jan 2 2006", month+" "+day+" "+clock)
	if err != nil {
		return time.Time{}
	}
	return t
}
