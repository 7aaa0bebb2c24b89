// Package output handles report serialization and progress reporting.
package output

import (
	"fmt"
	"os"
	"time"
)

// Progress reports collection status to stderr.
type Progress struct {
	enabled bool
	start   time.Time
}

// NewProgress creates a Progress reporter. Set enabled=false for --quiet mode.
func NewProgress(enabled bool) *Progress {
	return &Progress{
		enabled: enabled,
		start:   time.Now(),
	}
}

// Log prints a progress message to stderr if enabled.
func (p *Progress) Log(format string, args ...interface{}) {
	if !p.enabled {
		return
	}
	elapsed := time.Since(p.start).Round(time.Millisecond)
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(os.Stderr, "[%s] %s\n", elapsed, msg)
}

// VerboseProgress adds a Debug channel on top of Progress, driven by the
// CLI's -v flag: attach/detach/table-sweep detail a normal run never prints.
type VerboseProgress struct {
	*Progress
	verbose bool
}

// NewVerboseProgress builds a VerboseProgress. verbose=true implies enabled,
// since debug output with no progress narration at all would be confusing.
func NewVerboseProgress(enabled, verbose bool) *VerboseProgress {
	return &VerboseProgress{
		Progress: NewProgress(enabled || verbose),
		verbose:  verbose,
	}
}

// Debug prints a debug-level message to stderr only when verbose is set.
func (p *VerboseProgress) Debug(format string, args ...interface{}) {
	if !p.verbose {
		return
	}
	elapsed := time.Since(p.start).Round(time.Millisecond)
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(os.Stderr, "[%s] DEBUG: %s\n", elapsed, msg)
}
