// Package doctor reviews a loaded tapemaintd configuration for settings
// that parse but will behave badly at runtime.
package doctor

import (
	"encoding/json"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattjoyce/tapemaint/internal/config"
	"github.com/mattjoyce/tapemaint/internal/storage"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a configuration.
type Doctor struct {
	cfg     *config.Config
	fscheck func(path string) error
}

func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg, fscheck: storage.CheckFilesystem}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateBackends(r)
	d.validateAPIConfig(r)
	d.warnDisabledRoutines(r)
	d.warnTimeouts(r)
	d.warnRetention(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateBackends checks the three database paths.
func (d *Doctor) validateBackends(r *Result) {
	b := d.cfg.Backends
	paths := map[string]string{
		"backends.catalogue_path":   b.CataloguePath,
		"backends.scheduler_path":   b.SchedulerPath,
		"backends.objectstore_path": b.ObjectStorePath,
	}
	for _, field := range []string{"backends.catalogue_path", "backends.scheduler_path", "backends.objectstore_path"} {
		path := paths[field]
		if path == "" {
			d.addError(r, "backends", field, "path is required")
			continue
		}
		if err := d.fscheck(path); err != nil {
			d.addError(r, "backends", field, err.Error())
		}
	}

	if pid := d.cfg.Service.PIDFile; pid != "" {
		for _, field := range []string{"backends.catalogue_path", "backends.scheduler_path", "backends.objectstore_path"} {
			if path := paths[field]; path != "" && filepath.Clean(path) == filepath.Clean(pid) {
				d.addError(r, "backends", field, "database path collides with service.pid_file")
			}
		}
	}
}

// validateAPIConfig checks the status server settings.
func (d *Doctor) validateAPIConfig(r *Result) {
	api := d.cfg.API
	if !api.Enabled {
		return
	}
	host, _, err := net.SplitHostPort(api.Listen)
	if err != nil {
		d.addError(r, "api", "api.listen", fmt.Sprintf("invalid listen address %q: %v", api.Listen, err))
		return
	}
	if api.APIKey != "" {
		return
	}
	if isLoopback(host) {
		d.addWarning(r, "api", "api.api_key", "status API enabled without an API key")
		return
	}
	d.addError(r, "api", "api.api_key", fmt.Sprintf("status API listens on %q without an API key", api.Listen))
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// warnDisabledRoutines flags routines whose absence lets work pile up.
func (d *Doctor) warnDisabledRoutines(r *Result) {
	rt := d.cfg.Routines
	enabled := map[string]bool{
		"garbage_collector":      rt.GarbageCollector.Enabled,
		"queue_cleanup":          rt.QueueCleanup.Enabled,
		"failed_queue_retention": rt.FailedQueueRetention.Enabled,
		"mount_fetch_retention":  rt.MountFetchRetention.Enabled,
		"repack_expand":          rt.RepackExpand.Enabled,
		"repack_report":          rt.RepackReport.Enabled,
	}
	anyEnabled := false
	for _, on := range enabled {
		anyEnabled = anyEnabled || on
	}
	if !anyEnabled {
		d.addError(r, "routines", "routines", "every routine is disabled; the daemon would do nothing")
		return
	}
	if !enabled["queue_cleanup"] {
		d.addWarning(r, "routines", "routines.queue_cleanup.enabled",
			"jobs owned by dead mounts will never be requeued")
	}
	if enabled["repack_expand"] && !enabled["repack_report"] {
		d.addWarning(r, "routines", "routines.repack_report.enabled",
			"repack requests will be expanded but never reach a final status")
	}
}

// warnTimeouts flags timing settings that fight each other.
func (d *Doctor) warnTimeouts(r *Result) {
	rt := d.cfg.Routines
	cycle := d.cfg.Service.CycleInterval

	if cycle > 0 && cycle < time.Second {
		d.addWarning(r, "timing", "service.cycle_interval",
			fmt.Sprintf("cycle interval %s is very short (< 1s)", cycle))
	}
	if rt.GarbageCollector.Enabled && rt.GarbageCollector.AgentTimeout > 0 && rt.GarbageCollector.AgentTimeout < 2*cycle {
		d.addWarning(r, "timing", "routines.garbage_collector.agent_timeout",
			fmt.Sprintf("agent timeout %s is under two cycles (%s); peers may collect this daemon between heartbeats", rt.GarbageCollector.AgentTimeout, 2*cycle))
	}
	if rt.HardTimeout > 0 && rt.RepackReport.Enabled && rt.HardTimeout < rt.RepackReport.SoftTimeout {
		d.addWarning(r, "timing", "routines.hard_timeout",
			fmt.Sprintf("hard timeout %s is shorter than the repack report soft timeout %s", rt.HardTimeout, rt.RepackReport.SoftTimeout))
	}
	if rt.RepackReport.Enabled && rt.RepackReport.ReclaimDelay > 0 && rt.RepackReport.ReclaimDelay <= rt.RepackReport.SoftTimeout {
		d.addWarning(r, "timing", "routines.repack_report.reclaim_delay",
			"reclaim delay does not exceed the soft timeout; a batch still being reported may be claimed twice")
	}
	if rt.RepackExpand.Enabled && rt.RepackExpand.MaxRequestsToExpand > 20 {
		d.addWarning(r, "repack", "routines.repack_expand.max_requests_to_expand",
			fmt.Sprintf("%d concurrent repack expansions will flood the retrieve queue", rt.RepackExpand.MaxRequestsToExpand))
	}
}

// warnRetention flags retention windows short enough to hide failures.
func (d *Doctor) warnRetention(r *Result) {
	check := func(field string, rc config.RetentionConfig) {
		if rc.Enabled && rc.InactiveTimeLimit > 0 && rc.InactiveTimeLimit < time.Hour {
			d.addWarning(r, "retention", field,
				fmt.Sprintf("inactive time limit %s removes rows before operators can inspect them", rc.InactiveTimeLimit))
		}
	}
	check("routines.failed_queue_retention.inactive_time_limit", d.cfg.Routines.FailedQueueRetention)
	check("routines.mount_fetch_retention.inactive_time_limit", d.cfg.Routines.MountFetchRetention)
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid {
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	} else {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		writeIssue(&b, "ERROR", e)
	}
	for _, w := range r.Warnings {
		writeIssue(&b, "WARN ", w)
	}
	return b.String()
}

func writeIssue(b *strings.Builder, label string, i Issue) {
	if i.Field != "" {
		fmt.Fprintf(b, "  %s [%s] %s: %s\n", label, i.Category, i.Field, i.Message)
		return
	}
	fmt.Fprintf(b, "  %s [%s] %s\n", label, i.Category, i.Message)
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
