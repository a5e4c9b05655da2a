// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package frametime

import (
	"encoding/csv"
	"math"
	"strconv"
	"strings"
)

// HeaderSentinel is the first column name of every capture-tool header
// row. A row whose first field equals it rebuilds the column map, which
// handles a tool that reprints its header mid-stream.
const HeaderSentinel = "Application"

// ColumnProfile lists, for each metric, the column names that may carry
// it, in preference order. Names are matched case-insensitively.
type ColumnProfile struct {
	// FrameTime columns hold the time between frames in milliseconds.
	FrameTime []string

	// FPS columns hold an instantaneous frame rate. Used only when no
	// FrameTime column yields a plausible value (frame time = 1000/fps).
	FPS []string

	// Dropped columns flag frames that never reached the display. A
	// row with any of these present and non-zero is discarded.
	Dropped []string

	GPULatency     []string
	GPUTime        []string
	GPUBusy        []string
	GPUWait        []string
	DisplayLatency []string
	CPUBusy        []string
	CPUWait        []string
}

// DefaultProfile covers the 1.x schema (ms-prefixed columns), the 2.x
// schema (unprefixed metric names), and the 2.x "v1 compatibility"
// output.
func DefaultProfile() ColumnProfile {
	return ColumnProfile{
		FrameTime:      []string{"FrameTime", "msBetweenPresents", "msBetweenDisplayChange", "MsBetweenAppStart"},
		FPS:            []string{"FPS", "PresentedFPS", "DisplayedFPS"},
		Dropped:        []string{"Dropped"},
		GPULatency:     []string{"GPULatency", "msGPULatency"},
		GPUTime:        []string{"GPUTime", "msGPUTime", "msGPUActive"},
		GPUBusy:        []string{"GPUBusy", "msGPUBusy"},
		GPUWait:        []string{"GPUWait", "msGPUWait"},
		DisplayLatency: []string{"DisplayLatency", "msDisplayLatency", "msUntilDisplayed"},
		CPUBusy:        []string{"CPUBusy", "msCPUBusy"},
		CPUWait:        []string{"CPUWait", "msCPUWait"},
	}
}

// WithDefaults returns a copy of p in which every empty list is
// replaced by the corresponding DefaultProfile list.
func (p ColumnProfile) WithDefaults() ColumnProfile {
	defaults := DefaultProfile()
	fill := func(list *[]string, fallback []string) {
		if len(*list) == 0 {
			*list = fallback
		}
	}
	fill(&p.FrameTime, defaults.FrameTime)
	fill(&p.FPS, defaults.FPS)
	fill(&p.Dropped, defaults.Dropped)
	fill(&p.GPULatency, defaults.GPULatency)
	fill(&p.GPUTime, defaults.GPUTime)
	fill(&p.GPUBusy, defaults.GPUBusy)
	fill(&p.GPUWait, defaults.GPUWait)
	fill(&p.DisplayLatency, defaults.DisplayLatency)
	fill(&p.CPUBusy, defaults.CPUBusy)
	fill(&p.CPUWait, defaults.CPUWait)
	return p
}

// columnMap maps lowercased column names to field positions.
type columnMap struct {
	index map[string]int
	// maxIndex is the largest position present in index. A data row
	// must have more than maxIndex fields to be parsed.
	maxIndex int
}

// newColumnMap builds a map from a header row. The first occurrence of
// a duplicated name wins; blank names are skipped.
func newColumnMap(header []string) *columnMap {
	columns := &columnMap{index: make(map[string]int, len(header))}
	for position, name := range header {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			continue
		}
		if _, exists := columns.index[key]; exists {
			continue
		}
		columns.index[key] = position
		if position > columns.maxIndex {
			columns.maxIndex = position
		}
	}
	return columns
}

// number returns the first variant whose field parses as a finite,
// non-negative number.
func (c *columnMap) number(row []string, variants []string) (float64, bool) {
	for _, name := range variants {
		position, ok := c.index[strings.ToLower(name)]
		if !ok {
			continue
		}
		if value, ok := parseNumber(row[position]); ok && value >= 0 {
			return value, true
		}
	}
	return 0, false
}

// anyFlagSet reports whether any of the variant columns is present and
// holds a non-zero (or "true") value.
func (c *columnMap) anyFlagSet(row []string, variants []string) bool {
	for _, name := range variants {
		position, ok := c.index[strings.ToLower(name)]
		if !ok {
			continue
		}
		if isFlagSet(row[position]) {
			return true
		}
	}
	return false
}

// parseNumber parses a metric field. The capture tool writes "NA" for
// metrics that do not apply to a frame; those, blanks, and non-finite
// values report false.
func parseNumber(field string) (float64, bool) {
	field = strings.TrimSpace(field)
	if field == "" || strings.EqualFold(field, "NA") || strings.EqualFold(field, "N/A") {
		return 0, false
	}
	value, err := strconv.ParseFloat(field, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, false
	}
	return value, true
}

// isFlagSet interprets a dropped-frame indicator. Numeric values are set
// when non-zero; the literal "true" (any case) is also set.
func isFlagSet(field string) bool {
	if value, ok := parseNumber(field); ok {
		return value != 0
	}
	return strings.EqualFold(strings.TrimSpace(field), "true")
}

// splitFields splits one CSV line, honoring quoted fields and doubled
// quotes inside them.
func splitFields(line string) ([]string, error) {
	reader := csv.NewReader(strings.NewReader(line))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	return reader.Read()
}
