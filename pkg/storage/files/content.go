// Zaparoo USB Storage
// Copyright (c) 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Zaparoo USB Storage.
//
// Zaparoo USB Storage is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Zaparoo USB Storage is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Zaparoo USB Storage.  If not, see <http://www.gnu.org/licenses/>.

package files

import (
	"errors"
	"fmt"
)

// SavingMode selects how file content is interpreted.
type SavingMode int

const (
	ModeText SavingMode = iota
	ModeBinary
)

// Wire names of the saving modes used by the host bridge.
const (
	SavingTypeString = "StringData"
	SavingTypeBytes  = "BytesData"
)

var ErrUnknownSavingType = errors.New("unknown saving type")

func (m SavingMode) String() string {
	switch m {
	case ModeText:
		return SavingTypeString
	case ModeBinary:
		return SavingTypeBytes
	default:
		return fmt.Sprintf("SavingMode(%d)", int(m))
	}
}

// ParseSavingMode parses a wire saving type name.
func ParseSavingMode(s string) (SavingMode, error) {
	switch s {
	case SavingTypeString:
		return ModeText, nil
	case SavingTypeBytes:
		return ModeBinary, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownSavingType, s)
	}
}

// Content is file content tagged with its saving mode. It is implemented by
// Text and Binary only.
type Content interface {
	Mode() SavingMode
	Bytes() []byte
	isContent()
}

// Text is content stored as UTF-8 encoded text.
type Text string

// Binary is content stored as raw bytes.
type Binary []byte

func (Text) Mode() SavingMode { return ModeText }
func (t Text) Bytes() []byte  { return []byte(t) }
func (Text) isContent()       {}

func (Binary) Mode() SavingMode { return ModeBinary }
func (b Binary) Bytes() []byte  { return b }
func (Binary) isContent()       {}
