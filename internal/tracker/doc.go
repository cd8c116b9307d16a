// Package tracker assigns stable identities to detections across frames by
// comparing appearance embeddings.
package tracker
