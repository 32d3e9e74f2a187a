package id

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Namespace UUIDs for different entity types (UUIDv5 requires a namespace)
var (
	JobNamespace     = uuid.MustParse("3f1c2a40-6d2b-5c8e-9a71-0b4e6f9d2c10")
	RunNamespace     = uuid.MustParse("3f1c2a41-6d2b-5c8e-9a71-0b4e6f9d2c10")
	SessionNamespace = uuid.MustParse("3f1c2a42-6d2b-5c8e-9a71-0b4e6f9d2c10")
)

// GenerateJobID generates a deterministic ID for a job based on its name
func GenerateJobID(name string) string {
	id := uuid.NewSHA1(JobNamespace, []byte(name))
	return fmt.Sprintf("job_%s", id.String())
}

// GenerateRunID generates a deterministic ID for a job run based on job ID
// and scheduled time. A recovery run for the same slot gets the same ID, so a
// slot is never executed twice.
func GenerateRunID(jobID string, scheduledTime time.Time) string {
	timeStr := scheduledTime.UTC().Format(time.RFC3339)
	combined := fmt.Sprintf("%s:%s", jobID, timeStr)
	id := uuid.NewSHA1(RunNamespace, []byte(combined))
	return fmt.Sprintf("run_%s", id.String())
}

// GenerateSessionID generates a deterministic ID for a poll session
// based on the owning run ID
func GenerateSessionID(runID string) string {
	id := uuid.NewSHA1(SessionNamespace, []byte(runID))
	return fmt.Sprintf("poll_%s", id.String())
}
