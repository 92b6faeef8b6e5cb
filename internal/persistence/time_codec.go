package persistence

import (
	"database/sql"
	"time"
)

func timeToUnixMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func unixMillisToTime(v int64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(v)
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableUint32(v *uint32) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}

func uint32FromNull(v sql.NullInt64) *uint32 {
	if !v.Valid {
		return nil
	}
	out := uint32(v.Int64)
	return &out
}
