//
// Copyright 2026 sel4cap authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

// Package rlog is the one shared logger every other package logs
// through. It exists so a root task can redirect or reconfigure logging
// in one place (output, level, formatter) instead of each package
// reaching for its own logrus instance.
package rlog

import (
	"fmt"

	"github.com/docker/docker/pkg/stringid"
	"github.com/sirupsen/logrus"

	"github.com/nestybox/sel4cap/pkg/kernelabi"
)

// logger is the process-wide *logrus.Logger every Log* helper below
// writes through. It starts with logrus's defaults (text formatter,
// Info level, stderr) and is swapped wholesale by SetLogger, mirroring
// the teacher's package-level logrus.Standard() usage but made
// explicit so cmd/roottask can point it at a different formatter or
// level without a bare logrus.SetLevel call leaking into every package
// that happens to import logrus.
var logger = logrus.StandardLogger()

// SetLogger replaces the shared logger. cmd/roottask calls this once at
// startup after parsing pkg/rootconfig's log level and format knobs.
func SetLogger(l *logrus.Logger) {
	logger = l
}

// Logger returns the shared logger, for callers that want the raw
// *logrus.Logger rather than one of the field helpers below.
func Logger() *logrus.Logger { return logger }

// Component starts a logrus.Entry tagged with the given component name,
// the same logrus.WithFields(logrus.Fields{...}) idiom the teacher's
// fileMonitor/pidmonitor packages use for their own event logging.
func Component(name string) *logrus.Entry {
	return logger.WithField("component", name)
}

// ShortID is a human-readable rendering of an otherwise opaque 64-bit
// kernel identifier (a capability slot, an ASID, a badge). It follows
// the teacher's formatter.ContainerID shape: a String()/ShortID()/
// LongID() trio over github.com/docker/docker/pkg/stringid, adapted
// from container ids to kernel ids.
type ShortID struct {
	full string
}

// ShortID truncates the full hex id the same way stringid truncates a
// container id, for compact log lines.
func (s ShortID) ShortID() string { return stringid.TruncateID(s.full) }

// LongID returns the untruncated hex id.
func (s ShortID) LongID() string { return s.full }

// String implements fmt.Stringer as the short form, so a ShortID can be
// passed straight to a logrus field or Printf verb.
func (s ShortID) String() string { return s.ShortID() }

func newShortID(v uint64) ShortID {
	return ShortID{full: fmt.Sprintf("%016x", v)}
}

// CPtrID renders a capability pointer as a ShortID.
func CPtrID(cptr kernelabi.CPtr) ShortID { return newShortID(uint64(cptr)) }

// ASIDID renders an address-space id as a ShortID.
func ASIDID(asid kernelabi.ASID) ShortID { return newShortID(uint64(asid)) }

// BadgeID renders a notification/endpoint badge as a ShortID.
func BadgeID(badge uint64) ShortID { return newShortID(badge) }

// WithCPtr adds a cptr field to an existing entry.
func WithCPtr(e *logrus.Entry, cptr kernelabi.CPtr) *logrus.Entry {
	return e.WithField("cptr", CPtrID(cptr))
}

// WithASID adds an asid field to an existing entry.
func WithASID(e *logrus.Entry, asid kernelabi.ASID) *logrus.Entry {
	return e.WithField("asid", ASIDID(asid))
}

// WithBadge adds a badge field to an existing entry, for the fault and
// IPC badge-disambiguation paths.
func WithBadge(e *logrus.Entry, badge uint64) *logrus.Entry {
	return e.WithField("badge", BadgeID(badge))
}
