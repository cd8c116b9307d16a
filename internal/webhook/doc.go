// Package webhook delivers job completion callbacks with bounded retries.
package webhook
