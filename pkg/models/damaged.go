package models

import "time"

// DamagedFileEntry is one row of the damaged-file registry, keyed by absolute path.
type DamagedFileEntry struct {
	Path         string          `json:"path"`
	Timestamp    time.Time       `json:"timestamp"`
	ErrorDetails string          `json:"error_details,omitempty"`
	Status       string          `json:"status"`
	Media        *MediaRecord    `json:"media,omitempty"`
	RepairedPath string          `json:"repaired_path,omitempty"`
	Attempts     []RepairAttempt `json:"attempts,omitempty"`
}

// RepairAttempt records the outcome of one repair strategy against an entry.
type RepairAttempt struct {
	StrategyID string    `json:"strategy_id"`
	Strategy   string    `json:"strategy"`
	Outcome    string    `json:"outcome"`
	Reason     string    `json:"reason,omitempty"`
	At         time.Time `json:"at"`
}

// DamagedStatus constants
const (
	DamagedStatusReported           = "reported"
	DamagedStatusRepaired           = "repaired"
	DamagedStatusRepairedWithIssues = "repaired_with_issues"
	DamagedStatusRepairFailed       = "repair_failed"
)

// RepairOutcome constants
const (
	RepairOutcomeRepaired     = "repaired"
	RepairOutcomeFailed       = "failed"
	RepairOutcomeNotApplied   = "not_applied"
	RepairOutcomeUnverifiable = "verification_failed"
)
