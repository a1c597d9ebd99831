// Package livecheck holds black-box HTTP contract tests for a running
// ppe_monitor. They are skipped unless MONITOR_BASE_URL is set.
package livecheck
