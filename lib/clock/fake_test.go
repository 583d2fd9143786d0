// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock_test

import (
	"testing"
	"time"

	"github.com/bureau-foundation/steward/lib/clock"
	"github.com/bureau-foundation/steward/lib/testutil"
)

var testEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeNow(t *testing.T) {
	fake := clock.Fake(testEpoch)
	if got := fake.Now(); !got.Equal(testEpoch) {
		t.Errorf("Now() = %v, want %v", got, testEpoch)
	}

	fake.Advance(3 * time.Second)
	if got := fake.Now(); !got.Equal(testEpoch.Add(3 * time.Second)) {
		t.Errorf("Now() after Advance = %v, want %v", got, testEpoch.Add(3*time.Second))
	}
}

func TestFakeAfterFiresOnAdvance(t *testing.T) {
	fake := clock.Fake(testEpoch)
	ch := fake.After(5 * time.Second)

	select {
	case <-ch:
		t.Fatal("After fired before Advance")
	default:
	}

	fake.Advance(5 * time.Second)
	testutil.RequireReceive(t, ch, time.Second, "After channel")
}

func TestFakeAfterNonPositive(t *testing.T) {
	fake := clock.Fake(testEpoch)
	testutil.RequireReceive(t, fake.After(0), time.Second, "zero-duration After")
}

func TestFakeAfterFuncStop(t *testing.T) {
	fake := clock.Fake(testEpoch)

	fired := false
	timer := fake.AfterFunc(time.Second, func() { fired = true })

	if !timer.Stop() {
		t.Error("Stop() = false, want true for pending timer")
	}
	fake.Advance(2 * time.Second)
	if fired {
		t.Error("stopped AfterFunc fired")
	}
	if timer.Stop() {
		t.Error("second Stop() = true, want false")
	}
}

func TestFakeWaitForTimers(t *testing.T) {
	fake := clock.Fake(testEpoch)

	done := make(chan struct{})
	go func() {
		fake.Sleep(10 * time.Second)
		close(done)
	}()

	fake.WaitForTimers(1)
	fake.Advance(10 * time.Second)
	testutil.RequireClosed(t, done, time.Second, "sleeping goroutine")
}

func TestFakeAdvanceFiresInDeadlineOrder(t *testing.T) {
	fake := clock.Fake(testEpoch)

	var order []int
	fake.AfterFunc(3*time.Second, func() { order = append(order, 3) })
	fake.AfterFunc(1*time.Second, func() { order = append(order, 1) })
	fake.AfterFunc(2*time.Second, func() { order = append(order, 2) })

	fake.Advance(5 * time.Second)

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("fire order = %v, want [1 2 3]", order)
	}
}
