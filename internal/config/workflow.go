package config

import "time"

// WorkflowConfig tunes the signing workflow.  Every value has a default so
// the service starts with an empty environment.
type WorkflowConfig struct {
	BackupTTL             time.Duration // how long a progress backup stays restorable
	AutosaveDebounce      time.Duration // quiet period before an autosave is written
	RetryAttempts         int           // attempts per storage call, including the first
	RetryBase             time.Duration // first backoff; doubles per attempt
	RetryMax              time.Duration // backoff ceiling
	IdempotencyTTL        time.Duration // how long completion responses are replayable
	SignatureHistoryDepth int           // undo/redo depth of the signature pad
}

func LoadWorkflowConfig() WorkflowConfig {
	c := WorkflowConfig{
		BackupTTL:             envDur("BACKUP_TTL", 24*time.Hour),
		AutosaveDebounce:      envDur("AUTOSAVE_DEBOUNCE", 2*time.Second),
		RetryAttempts:         envInt("RETRY_ATTEMPTS", 3),
		RetryBase:             envDur("RETRY_BASE", 100*time.Millisecond),
		RetryMax:              envDur("RETRY_MAX", 2*time.Second),
		IdempotencyTTL:        envDur("IDEMPOTENCY_TTL", 24*time.Hour),
		SignatureHistoryDepth: envInt("SIGNATURE_HISTORY_DEPTH", 50),
	}
	if c.RetryAttempts < 1 {
		c.RetryAttempts = 1
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 100 * time.Millisecond
	}
	if c.RetryMax < c.RetryBase {
		c.RetryMax = c.RetryBase
	}
	if c.SignatureHistoryDepth < 1 {
		c.SignatureHistoryDepth = 50
	}
	return c
}
