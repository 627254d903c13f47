// Package worker contains the long-running worker loops that drive the
// coordinator and the job queue, and the executor that shells out to the
// OCR automation.
package worker

import (
	"fmt"
	"os"
)

// ID builds the worker identity used as lock owner and job run worker id.
func ID(host string, pid int, profileID string) string {
	if profileID == "" {
		return fmt.Sprintf("%s/%d", host, pid)
	}
	return fmt.Sprintf("%s/%d/%s", host, pid, profileID)
}

// LocalID returns the identity of this process for profileID.
func LocalID(profileID string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return ID(host, os.Getpid(), profileID)
}
