// Package timex holds time helpers shared by bus payloads.
package timex

import "time"

// NowMs returns Unix milliseconds as int64.
func NowMs() int64 { return time.Now().UnixMilli() }
