package logger

import (
	"time"

	"go.uber.org/zap"
)

// String creates a string field.
func String(key, val string) Field { return zap.String(key, val) }

// Strings creates a string slice field.
func Strings(key string, val []string) Field { return zap.Strings(key, val) }

// Int creates an int field.
func Int(key string, val int) Field { return zap.Int(key, val) }

// Int64 creates an int64 field.
func Int64(key string, val int64) Field { return zap.Int64(key, val) }

// Duration creates a duration field.
func Duration(key string, val time.Duration) Field { return zap.Duration(key, val) }

// Time creates a time field.
func Time(key string, val time.Time) Field { return zap.Time(key, val) }

// Error creates an error field with the key "error".
func Error(err error) Field { return zap.Error(err) }

// Any creates a field from an arbitrary value.
func Any(key string, val any) Field { return zap.Any(key, val) }

// Domain-specific fields. Keys are kept stable so log queries can rely on them.

// JobID tags an entry with an extraction job id.
func JobID(id string) Field { return zap.String("job_id", id) }

// CampaignID tags an entry with a campaign id.
func CampaignID(id string) Field { return zap.String("campaign_id", id) }

// UserID tags an entry with the owning user id.
func UserID(id string) Field { return zap.String("user_id", id) }

// TargetDomain tags an entry with the domain being extracted.
func TargetDomain(domain string) Field { return zap.String("domain", domain) }

// QueueItemID tags an entry with a DM queue item id.
func QueueItemID(id string) Field { return zap.String("queue_item_id", id) }

// TaskID tags an entry with a dispatcher task id.
func TaskID(id string) Field { return zap.String("task_id", id) }
