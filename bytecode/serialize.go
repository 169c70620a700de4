// Copyright (C) 2024 the da Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package bytecode

import (
	"bytes"
	"encoding/gob"
	"io"

	"github.com/klauspost/compress/zstd"
)

// Program is the full compiled output of a module: codes[0] is the
// module's own Code, matching spec.md §4.8 ("codes[0] is the module").
type Program struct {
	Codes []*Code
}

// Dump serializes p with encoding/gob and zstd-compresses the result,
// the same pairing the teacher uses for its on-disk block formats
// (compr/compression.go): gob for the structural encoding, zstd for
// the wire/disk compression, rather than hand-rolling either. This
// backs the CLI's reserved `-o FILE` flag (spec.md §6).
func Dump(w io.Writer, p *Program) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(p); err != nil {
		return err
	}
	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	if _, err := zw.Write(buf.Bytes()); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

// Load decompresses and decodes a Program previously written by Dump.
func Load(r io.Reader) (*Program, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, zr); err != nil {
		return nil, err
	}
	p := new(Program)
	if err := gob.NewDecoder(&buf).Decode(p); err != nil {
		return nil, err
	}
	return p, nil
}
