package muduo

import "time"

// Timestamp is a monotonic-ish wall time in microseconds since the Unix
// epoch. The zero value is the distinguished invalid timestamp.
type Timestamp struct {
	microSecondsSinceEpoch int64
}

// Now returns the current time as a Timestamp.
func Now() Timestamp {
	return Timestamp{microSecondsSinceEpoch: time.Now().UnixMicro()}
}

// Invalid returns the distinguished invalid Timestamp.
func Invalid() Timestamp {
	return Timestamp{}
}

// Valid reports whether t is not the invalid sentinel.
func (t Timestamp) Valid() bool {
	return t.microSecondsSinceEpoch > 0
}

// MicroSecondsSinceEpoch returns the raw microsecond value.
func (t Timestamp) MicroSecondsSinceEpoch() int64 {
	return t.microSecondsSinceEpoch
}

// Time converts the Timestamp back to a time.Time for formatting.
func (t Timestamp) Time() time.Time {
	return time.UnixMicro(t.microSecondsSinceEpoch)
}

// Before reports whether t is strictly earlier than other.
func (t Timestamp) Before(other Timestamp) bool {
	return t.microSecondsSinceEpoch < other.microSecondsSinceEpoch
}

// After reports whether t is strictly later than other.
func (t Timestamp) After(other Timestamp) bool {
	return t.microSecondsSinceEpoch > other.microSecondsSinceEpoch
}

// Equal reports whether t and other denote the same instant.
func (t Timestamp) Equal(other Timestamp) bool {
	return t.microSecondsSinceEpoch == other.microSecondsSinceEpoch
}

// Sub returns t - other as a time.Duration.
func (t Timestamp) Sub(other Timestamp) time.Duration {
	return time.Duration(t.microSecondsSinceEpoch-other.microSecondsSinceEpoch) * time.Microsecond
}

// AddTime returns a new Timestamp offset from ts by d.
func AddTime(ts Timestamp, d time.Duration) Timestamp {
	delta := int64(d / time.Microsecond)
	return Timestamp{microSecondsSinceEpoch: ts.microSecondsSinceEpoch + delta}
}
