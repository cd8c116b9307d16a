// Package media reads video metadata and decodes frames by shelling out to
// ffprobe and ffmpeg.
package media
