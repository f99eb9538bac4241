package types

import "time"

// Timestamp is a block time as seconds and nanoseconds since the Unix
// epoch, so its encoding does not depend on time.Time internals.
type Timestamp struct {
	Seconds int64 `cramberry:"1"`
	Nanos   int32 `cramberry:"2"`
}

// NewTimestamp converts t, dropping its location and monotonic reading.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Seconds: t.Unix(), Nanos: int32(t.Nanosecond())}
}

// Time returns the timestamp in UTC.
func (ts Timestamp) Time() time.Time {
	return time.Unix(ts.Seconds, int64(ts.Nanos)).UTC()
}

// IsZero reports whether ts is the unset timestamp.
func (ts Timestamp) IsZero() bool { return ts == Timestamp{} }
