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

// Package errs is the fatal-error boundary shared by the frontend,
// compiler, and VM (spec.md §7): fatal conditions (malformed source, an
// unknown symbol, VM runtime faults such as stack underflow or a call
// target that is not callable) are not meant to be recovered locally.
// They panic with a *FatalError carrying a file:line location, caught
// once at a boundary (cmd/da's run, vm.VM.Run) and turned into a plain
// error or a process exit code. Pool exhaustion is not raised here:
// device.Pool.Allocate returns it as an ordinary error. Neither is a
// full queue: pipeline.Queue.Push waits for a free slot instead.
package errs

import "fmt"

// FatalError is the panic payload raised by Fatalf. Location is
// whatever the caller had on hand: a source position for compile-time
// errors, a "file:line" VM program location for runtime errors, or
// empty for errors with no source position (a VM fault at line 0 with
// no filename set).
type FatalError struct {
	Location string
	Message  string
}

func (e *FatalError) Error() string {
	if e.Location == "" {
		return e.Message
	}
	return e.Location + ": " + e.Message
}

// Fatalf panics with a *FatalError formatted from format/args, prefixed
// with loc when non-empty. Fatalf never returns.
func Fatalf(loc, format string, args ...any) {
	panic(&FatalError{Location: loc, Message: fmt.Sprintf(format, args...)})
}

// Recover turns a panic carrying a *FatalError into *errp, leaving any
// other panic value to continue propagating. Call via defer at a
// boundary that wants to convert fatal conditions into an error return
// instead of crashing the process.
func Recover(errp *error) {
	r := recover()
	if r == nil {
		return
	}
	if fe, ok := r.(*FatalError); ok {
		*errp = fe
		return
	}
	panic(r)
}
