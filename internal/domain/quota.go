package domain

import "time"

const (
	DefaultDailyExtractQuota = 150
	DefaultDailyDMQuota      = 10
)

// Quota is the per-user daily usage state stored on the user row.
type Quota struct {
	UserID            string    `db:"id"                  json:"user_id"`
	Plan              string    `db:"plan"                json:"plan"`
	DailyExtractQuota int       `db:"daily_extract_quota" json:"daily_extract_quota"`
	ExtractsUsedToday int       `db:"extracts_used_today" json:"extracts_used_today"`
	DailyDMQuota      int       `db:"daily_dm_quota"      json:"daily_dm_quota"`
	DMsUsedToday      int       `db:"dms_used_today"      json:"dms_used_today"`
	LastResetDate     time.Time `db:"last_quota_reset"    json:"last_quota_reset"`
}

// ExtractsRemaining never goes below zero.
func (q Quota) ExtractsRemaining() int {
	return max(q.DailyExtractQuota-q.ExtractsUsedToday, 0)
}

// DMsRemaining never goes below zero.
func (q Quota) DMsRemaining() int {
	return max(q.DailyDMQuota-q.DMsUsedToday, 0)
}

// NeedsReset reports whether the last reset happened on an earlier UTC date than now.
func (q Quota) NeedsReset(now time.Time) bool {
	return StartOfDay(q.LastResetDate).Before(StartOfDay(now))
}

// StartOfDay truncates t to midnight UTC.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
