package analysis

import "celluloid/internal/vision"

// DocumentVersion identifies the result document schema.
const DocumentVersion = "1.0"

// Document is the persisted result of one analysis job.
type Document struct {
	Version  string   `json:"version"`
	Metadata Metadata `json:"metadata"`
	Frames   []Frame  `json:"frames"`
}

// Metadata groups video, sprite, and processing information.
type Metadata struct {
	Video      VideoMeta      `json:"video"`
	Sprite     SpriteMeta     `json:"sprite"`
	Processing ProcessingMeta `json:"processing"`
}

// VideoMeta describes the analyzed source video.
type VideoMeta struct {
	FPS        float64 `json:"fps"`
	FrameCount int     `json:"frame_count"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Source     string  `json:"source"`
}

// SpriteMeta locates the thumbnail atlas.
type SpriteMeta struct {
	Path          string `json:"path"`
	ThumbnailSize [2]int `json:"thumbnail_size"`
}

// ProcessingMeta summarizes the analysis run.
type ProcessingMeta struct {
	StartTime            string  `json:"start_time"`
	EndTime              string  `json:"end_time"`
	DurationSeconds      float64 `json:"duration_seconds"`
	FramesProcessed      int     `json:"frames_processed"`
	FramesWithDetections int     `json:"frames_with_detections"`
	ProcessingSpeed      float64 `json:"processing_speed"`
	DetectionStatistics  Stats   `json:"detection_statistics"`
}

// Stats counts detections by category.
type Stats struct {
	TotalDetections   int            `json:"total_detections"`
	PersonDetections  int            `json:"person_detections"`
	PersonWithFace    int            `json:"person_with_face"`
	PersonWithoutFace int            `json:"person_without_face"`
	OtherDetections   int            `json:"other_detections"`
	ClassCounts       map[string]int `json:"class_counts"`
}

// Frame lists the tracked objects visible in one frame.
type Frame struct {
	FrameIdx  int      `json:"frame_idx"`
	Timestamp float64  `json:"timestamp"`
	Objects   []Object `json:"objects"`
}

// Object is one tracked sighting within a frame.
type Object struct {
	ID         string      `json:"id"`
	ClassName  string      `json:"class_name"`
	Confidence float64     `json:"confidence"`
	BBox       vision.Rect `json:"bbox"`
	Thumbnail  string      `json:"thumbnail"`
}

// JobMetadata is the compact summary stored on the job record.
type JobMetadata struct {
	FramesProcessed      int     `json:"frames_processed"`
	FramesWithDetections int     `json:"frames_with_detections"`
	TotalDetections      int     `json:"total_detections"`
	ProcessingTime       float64 `json:"processing_time"`
}
