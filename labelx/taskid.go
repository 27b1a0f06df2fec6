package labelx

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// TaskIDLength is the length of every issued task id.
const TaskIDLength = 32

// NewTaskID returns a 32-char hex id derived from a time-based UUID.
func NewTaskID() (string, error) {
	id, err := uuid.NewUUID()
	if err != nil {
		return "", fmt.Errorf("generate task id: %w", err)
	}
	return strings.ReplaceAll(id.String(), "-", ""), nil
}

// CheckTaskID validates the shape of a task id without touching storage.
func CheckTaskID(taskID string) error {
	if len(taskID) != TaskIDLength {
		return &Error{
			Kind:   KindMalformedTaskID,
			Op:     "check task id",
			Detail: fmt.Sprintf("%s is not in proper format, expect %d digits get %d digits", taskID, TaskIDLength, len(taskID)),
		}
	}
	if _, err := hex.DecodeString(taskID); err != nil {
		return &Error{
			Kind:   KindMalformedTaskID,
			Op:     "check task id",
			Detail: fmt.Sprintf("%s is not in proper format, expect %d hexadecimal digits", taskID, TaskIDLength),
		}
	}
	return nil
}
