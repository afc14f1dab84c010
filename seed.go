// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package modbus

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// SeedItem seeds one value into the process image: a boolean for the
// bit regions, a typed value spanning 1, 2 or 4 consecutive registers
// for the word regions.
type SeedItem struct {
	Address uint16    `json:"address"`
	Region  Region    `json:"region"`
	Type    ValueType `json:"type"`
	Value   SeedValue `json:"value"`
}

// SeedValue is the textual form of a seed value. JSON numbers and
// booleans unmarshal to their literal text.
type SeedValue string

// UnmarshalJSON implements json.Unmarshaler.
func (v *SeedValue) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = SeedValue(s)
		return nil
	}
	*v = SeedValue(strings.TrimSpace(string(data)))
	return nil
}

// LoadSeedFile parses a seed file. The format is detected from the
// extension and content: JSON when the payload starts with '[' or '{'
// or the file ends in .json, otherwise tab- or comma-separated rows of
// "address, region, type, value". '#' comments, blank lines and a
// leading header row are skipped.
func LoadSeedFile(path string) ([]SeedItem, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}

	trimmed := strings.TrimSpace(string(raw))
	ext := strings.ToLower(filepath.Ext(path))

	if ext == ".json" || strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "{") {
		return parseSeedJSON(raw)
	}

	sep := ','
	if ext == ".tsv" || (strings.ContainsRune(trimmed, '\t') && ext != ".csv") {
		sep = '\t'
	}
	return parseSeedRows(trimmed, sep)
}

func parseSeedJSON(raw []byte) ([]SeedItem, error) {
	var items []SeedItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSeed, err)
	}
	return items, nil
}

func parseSeedRows(content string, sep rune) ([]SeedItem, error) {
	reader := csv.NewReader(strings.NewReader(content))
	reader.Comma = sep
	reader.Comment = '#'
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSeed, err)
	}

	items := make([]SeedItem, 0, len(rows))
	for i, row := range rows {
		if len(row) == 1 && strings.TrimSpace(row[0]) == "" {
			continue
		}
		if len(row) < 4 {
			return nil, fmt.Errorf("%w: row %d has %d fields, want 4", ErrBadSeed, i+1, len(row))
		}

		addrField := strings.TrimSpace(row[0])
		addr, err := strconv.ParseUint(addrField, 0, 16)
		if err != nil {
			// Tolerate a header row in front.
			if i == 0 && strings.EqualFold(addrField, "address") {
				continue
			}
			return nil, fmt.Errorf("%w: row %d address %q", ErrBadSeed, i+1, addrField)
		}

		region, err := ParseRegion(strings.TrimSpace(row[1]))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		vt, err := ParseValueType(row[2])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}

		items = append(items, SeedItem{
			Address: uint16(addr),
			Region:  region,
			Type:    vt,
			Value:   SeedValue(strings.TrimSpace(row[3])),
		})
	}
	return items, nil
}

// ApplySeed writes seed items into the process image without emitting
// change notifications.
func (s *Server) ApplySeed(items []SeedItem) error {
	for i, item := range items {
		if err := s.applySeedItem(item); err != nil {
			return fmt.Errorf("seed item %d (%s@%d): %w", i, item.Region, item.Address, err)
		}
	}
	s.logger().Info("seed applied", slog.Int("items", len(items)))
	return nil
}

func (s *Server) applySeedItem(item SeedItem) error {
	if item.Region.IsBitRegion() {
		v, err := strconv.ParseBool(string(item.Value))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBadSeed, err)
		}
		if item.Region == RegionCoil {
			s.store.InitializeCoils(item.Address, 1, v)
		} else {
			s.store.InitializeDiscreteInputs(item.Address, 1, v)
		}
		return nil
	}

	regs, err := EncodeValue(item.Type, string(item.Value))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSeed, err)
	}
	for i, reg := range regs {
		addr := item.Address + uint16(i)
		if item.Region == RegionHoldingRegister {
			s.store.InitializeHoldingRegisters(addr, 1, reg)
		} else {
			s.store.InitializeInputRegisters(addr, 1, reg)
		}
	}
	return nil
}
