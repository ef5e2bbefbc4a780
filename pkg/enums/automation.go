package enums

// AutomationKind names a delayed follow-up attached to a status change.
type AutomationKind string

const (
	AutomationAutoComplete AutomationKind = "auto_complete"
	AutomationEscalation   AutomationKind = "escalation"
)

// String implements fmt.Stringer.
func (k AutomationKind) String() string {
	return string(k)
}

// IsValid reports whether the value is a known AutomationKind.
func (k AutomationKind) IsValid() bool {
	return k == AutomationAutoComplete || k == AutomationEscalation
}

// AutomationStatus tracks a scheduled automation row.
type AutomationStatus string

const (
	AutomationStatusPending AutomationStatus = "pending"
	AutomationStatusDone    AutomationStatus = "done"
	AutomationStatusSkipped AutomationStatus = "skipped"
	AutomationStatusFailed  AutomationStatus = "failed"
)

// String implements fmt.Stringer.
func (s AutomationStatus) String() string {
	return string(s)
}

// IsFinal reports whether the automation will not be picked up again.
func (s AutomationStatus) IsFinal() bool {
	return s == AutomationStatusDone || s == AutomationStatusSkipped || s == AutomationStatusFailed
}
