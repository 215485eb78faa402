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

package kernelerr

import "testing"

func TestKernelCodeString(t *testing.T) {
	codes := []KernelCode{InvalidArgument, InvalidCapability, IllegalOperation, RangeError,
		AlignmentError, FailedLookup, TruncatedMessage, DeleteFirst, RevokeFirst, NotEnoughMemory}
	want := []string{"InvalidArgument", "InvalidCapability", "IllegalOperation", "RangeError",
		"AlignmentError", "FailedLookup", "TruncatedMessage", "DeleteFirst", "RevokeFirst", "NotEnoughMemory"}

	for i, c := range codes {
		if got := c.String(); got != want[i] {
			t.Errorf("KernelCode(%d).String() failed: want %s, got %s", c, want[i], got)
		}
	}
}

func TestUnknownError(t *testing.T) {
	err := UnknownError(17)
	if err.Code != UnknownErrorCode {
		t.Errorf("UnknownError(17) failed: want code %v, got %v", UnknownErrorCode, err.Code)
	}
	if err.UnknownCode != 17 {
		t.Errorf("UnknownError(17) failed: want unknown code 17, got %d", err.UnknownCode)
	}
}

func TestSeL4ErrorUnwrap(t *testing.T) {
	cause := New(NotEnoughMemory)
	wrapped := WrapSyscall("Untyped_Retype", cause)

	if wrapped.Unwrap() != error(cause) {
		t.Errorf("SeL4Error.Unwrap() failed: want %v, got %v", cause, wrapped.Unwrap())
	}
	want := "Untyped_Retype: kernel: NotEnoughMemory"
	if wrapped.Error() != want {
		t.Errorf("SeL4Error.Error() failed: want %q, got %q", want, wrapped.Error())
	}
}

func TestQueueFullErrorReturnsItem(t *testing.T) {
	e := &QueueFullError[int]{Item: 42}
	if e.Item != 42 {
		t.Errorf("QueueFullError.Item failed: want 42, got %d", e.Item)
	}
	if e.Error() == "" {
		t.Errorf("QueueFullError.Error() failed: got empty string")
	}
}

func TestAggregateProcessSetupError(t *testing.T) {
	e1 := NewProcessSetupError(ProcessParameterTooBigForStack, "")
	e2 := NewProcessSetupError(NotEnoughCNodeSlots, "")
	agg := AggregateProcessSetupError(e1, e2)

	if agg.Kind != Aggregate {
		t.Errorf("AggregateProcessSetupError failed: want kind Aggregate, got %v", agg.Kind)
	}
	if len(agg.Aggr) != 2 {
		t.Errorf("AggregateProcessSetupError failed: want 2 causes, got %d", len(agg.Aggr))
	}
}
