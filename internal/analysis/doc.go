// Package analysis runs a single job end to end: fetch the video, detect and
// track objects frame by frame, pack thumbnails, and write the result
// document.
package analysis
