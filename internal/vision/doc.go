// Package vision defines the ML surfaces the analysis pipeline depends on
// and an HTTP client for the inference sidecar that implements them.
package vision
