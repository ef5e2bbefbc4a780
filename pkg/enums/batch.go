package enums

import "fmt"

// BatchStatus tracks a bulk operation record.
type BatchStatus string

const (
	BatchStatusPending    BatchStatus = "pending"
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusFailed     BatchStatus = "failed"
)

var validBatchStatuses = []BatchStatus{
	BatchStatusPending,
	BatchStatusProcessing,
	BatchStatusCompleted,
	BatchStatusFailed,
}

// String implements fmt.Stringer.
func (b BatchStatus) String() string {
	return string(b)
}

// IsValid reports whether the value is a known BatchStatus.
func (b BatchStatus) IsValid() bool {
	for _, candidate := range validBatchStatuses {
		if candidate == b {
			return true
		}
	}
	return false
}

// BulkIntent names a bulk action an admin can request.
type BulkIntent string

const (
	BulkIntentAssignDriver BulkIntent = "assign_driver"
	BulkIntentCancel       BulkIntent = "cancel"
	BulkIntentConfirm      BulkIntent = "confirm"
	BulkIntentStatusChange BulkIntent = "status_change"
)

var validBulkIntents = []BulkIntent{
	BulkIntentAssignDriver,
	BulkIntentCancel,
	BulkIntentConfirm,
	BulkIntentStatusChange,
}

// String implements fmt.Stringer.
func (b BulkIntent) String() string {
	return string(b)
}

// IsValid reports whether the value is a known BulkIntent.
func (b BulkIntent) IsValid() bool {
	for _, candidate := range validBulkIntents {
		if candidate == b {
			return true
		}
	}
	return false
}

// ParseBulkIntent converts raw input into a BulkIntent.
func ParseBulkIntent(value string) (BulkIntent, error) {
	for _, candidate := range validBulkIntents {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid bulk intent %q", value)
}
