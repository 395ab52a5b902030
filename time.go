package gomain

import "time"

// Clock is the injectable time service (spec.md §4.1, out of scope per
// §1: "clock sources for real and monotonic time"). NowMicros must be
// non-decreasing across calls; a clock that violates this is a fatal
// error per spec.md §7.
type Clock interface {
	// NowMicros returns the current monotonic time in microseconds.
	NowMicros() int64
}

// realClock wraps time.Now's monotonic reading, offset onto the Unix
// microsecond scale of the moment the package was initialized.
type realClock struct{}

var realClockBase = time.Now()

func (realClock) NowMicros() int64 {
	return realClockBase.UnixMicro() + time.Since(realClockBase).Microseconds()
}

// ReadyNever and ReadyNow are the ready-time sentinels from spec.md §3/§8.
const (
	// ReadyNever means the source never becomes ready purely by ready-time.
	ReadyNever int64 = -1
	// ReadyNow means the source is ready immediately, with zero timeout.
	ReadyNow int64 = 0
)

// roundMicrosToMillis implements spec.md §4.5's query rounding rule:
// input 0 -> 0, input -1 -> -1, positive input -> ceil(micros/1000),
// saturated to the max int a poll primitive can take.
func roundMicrosToMillis(micros int64) int {
	switch {
	case micros == ReadyNever:
		return -1
	case micros <= 0:
		return 0
	}
	ms := (micros + 999) / 1000
	const maxInt = int64(^uint(0) >> 1)
	if ms > maxInt {
		return int(maxInt)
	}
	return int(ms)
}
