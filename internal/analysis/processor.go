package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"celluloid/internal/config"
	"celluloid/internal/fetch"
	"celluloid/internal/logging"
	"celluloid/internal/media"
	"celluloid/internal/runner"
	"celluloid/internal/sprite"
	"celluloid/internal/store"
	"celluloid/internal/tracker"
	"celluloid/internal/vision"
	"celluloid/internal/webhook"
)

const personClass = "person"

// Processor executes analysis jobs. It owns the terminal store writes for
// jobs that run to completion or fail inside the worker; only jobs that die
// with the process are left for reconciliation to clean up.
type Processor struct {
	store      *store.Store
	downloader fetch.Downloader
	open       media.OpenFunc
	detector   vision.Detector
	embedder   vision.Embedder
	faces      vision.FaceFinder
	notifier   webhook.Notifier
	outputDir  string
	threshold  float64
	logger     *slog.Logger
	now        func() time.Time
}

// NewProcessor wires an analysis processor from its collaborators.
func NewProcessor(
	cfg *config.Config,
	st *store.Store,
	downloader fetch.Downloader,
	open media.OpenFunc,
	detector vision.Detector,
	embedder vision.Embedder,
	faces vision.FaceFinder,
	notifier webhook.Notifier,
	logger *slog.Logger,
) *Processor {
	return &Processor{
		store:      st,
		downloader: downloader,
		open:       open,
		detector:   detector,
		embedder:   embedder,
		faces:      faces,
		notifier:   notifier,
		outputDir:  cfg.Paths.OutputDir,
		threshold:  cfg.Detection.SimilarityThreshold,
		logger:     logging.NewComponentLogger(logger, "analysis"),
		now:        time.Now,
	}
}

// Run is the runner.TaskFunc for analysis jobs. The task ID is the job ID.
func (p *Processor) Run(ctx context.Context, task runner.Task, report func(percent float64)) error {
	jobID := task.ID
	job, err := p.store.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}

	job.Status = store.StatusProcessing
	job.Progress = 0
	if err := p.store.Update(ctx, job); err != nil {
		return fmt.Errorf("mark job processing: %w", err)
	}

	if runErr := p.process(ctx, job, report); runErr != nil {
		p.failJob(job, runErr)
		return runErr
	}
	return nil
}

func (p *Processor) process(ctx context.Context, job *store.Job, report func(percent float64)) error {
	started := p.now().UTC()

	videoPath, err := p.downloader.Download(ctx, job.ID, job.VideoURL)
	if err != nil {
		return err
	}
	defer p.removeScratch(job.ID, videoPath)

	source, err := p.open(ctx, videoPath)
	if err != nil {
		if errors.Is(err, media.ErrNoVideoStream) {
			return fmt.Errorf("invalid video: no video stream: %w", err)
		}
		return err
	}
	defer source.Close()
	info := source.Info()

	threshold := job.SimilarityThreshold
	if threshold <= 0 {
		threshold = p.threshold
	}
	track := tracker.New(threshold)
	atlasName := fmt.Sprintf("sprite_%s.jpg", job.ID)
	atlas := sprite.NewPacker(atlasName)

	var (
		frames               []Frame
		stats                = Stats{ClassCounts: map[string]int{}}
		framesProcessed      int
		framesWithDetections int
		lastReported         float64
	)

	for {
		frame, idx, err := source.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("processing interrupted: %w", err)
		}

		objects, err := p.processFrame(ctx, frame, idx, track, atlas, &stats)
		if err != nil {
			return err
		}
		framesProcessed++
		if len(objects) > 0 {
			framesWithDetections++
			timestamp := 0.0
			if info.FPS > 0 {
				timestamp = float64(idx) / info.FPS
			}
			frames = append(frames, Frame{FrameIdx: idx, Timestamp: timestamp, Objects: objects})
		}

		if info.FrameCount > 0 {
			percent := float64(framesProcessed) / float64(info.FrameCount) * 100
			if percent-lastReported >= 5 {
				lastReported = percent
				report(percent)
			}
		}
	}
	report(100)

	finished := p.now().UTC()
	duration := finished.Sub(started).Seconds()
	speed := 0.0
	if duration > 0 {
		speed = float64(framesProcessed) / duration
	}

	doc := Document{
		Version: DocumentVersion,
		Metadata: Metadata{
			Video: VideoMeta{
				FPS:        info.FPS,
				FrameCount: info.FrameCount,
				Width:      info.Width,
				Height:     info.Height,
				Source:     job.VideoURL,
			},
			Sprite: SpriteMeta{
				Path:          filepath.Join(job.ExternalID, atlasName),
				ThumbnailSize: [2]int{sprite.ThumbWidth, sprite.ThumbHeight},
			},
			Processing: ProcessingMeta{
				StartTime:            started.Format(time.RFC3339),
				EndTime:              finished.Format(time.RFC3339),
				DurationSeconds:      duration,
				FramesProcessed:      framesProcessed,
				FramesWithDetections: framesWithDetections,
				ProcessingSpeed:      speed,
				DetectionStatistics:  stats,
			},
		},
		Frames: frames,
	}

	resultPath, err := p.writeOutputs(job, atlas, atlasName, doc, started)
	if err != nil {
		return err
	}

	meta, err := json.Marshal(JobMetadata{
		FramesProcessed:      framesProcessed,
		FramesWithDetections: framesWithDetections,
		TotalDetections:      stats.TotalDetections,
		ProcessingTime:       duration,
	})
	if err != nil {
		return fmt.Errorf("marshal job metadata: %w", err)
	}

	job.Status = store.StatusCompleted
	job.Progress = 100
	job.ResultPath = resultPath
	job.MetadataJSON = string(meta)
	job.ErrorMessage = ""
	job.EndTime = &finished
	if err := p.store.Update(context.WithoutCancel(ctx), job); err != nil {
		return fmt.Errorf("persist completed job: %w", err)
	}

	p.logger.Info("job completed",
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldExternalID, job.ExternalID),
		logging.Int("frames_processed", framesProcessed),
		logging.Int("total_detections", stats.TotalDetections),
		logging.Duration(logging.FieldDuration, finished.Sub(started)))

	p.notify(job)
	return nil
}

func (p *Processor) processFrame(
	ctx context.Context,
	frame *image.RGBA,
	frameIdx int,
	track *tracker.Tracker,
	atlas *sprite.Packer,
	stats *Stats,
) ([]Object, error) {
	detections, err := p.detector.Detect(ctx, frame)
	if err != nil {
		return nil, fmt.Errorf("detect frame %d: %w", frameIdx, err)
	}

	var objects []Object
	for _, det := range detections {
		crop := cropFrame(frame, det.Box)
		if crop == nil {
			continue
		}

		if det.ClassName == personClass {
			stats.PersonDetections++
			hasFace, err := p.faces.HasFace(ctx, crop)
			if err != nil {
				return nil, fmt.Errorf("face check frame %d: %w", frameIdx, err)
			}
			if !hasFace {
				stats.PersonWithoutFace++
				continue
			}
			stats.PersonWithFace++
		} else {
			stats.OtherDetections++
		}

		embedding, err := p.embedder.Embed(ctx, crop)
		if err != nil {
			return nil, fmt.Errorf("embed frame %d: %w", frameIdx, err)
		}

		obj := track.Observe(frameIdx, tracker.Detection{
			ClassName:  det.ClassName,
			Confidence: det.Confidence,
			Box:        det.Box,
			Embedding:  embedding,
		})
		fragment := atlas.Add(obj.ID, crop)

		stats.TotalDetections++
		stats.ClassCounts[det.ClassName]++
		objects = append(objects, Object{
			ID:         obj.ID,
			ClassName:  det.ClassName,
			Confidence: det.Confidence,
			BBox:       det.Box,
			Thumbnail:  fragment,
		})
	}
	return objects, nil
}

func (p *Processor) writeOutputs(job *store.Job, atlas *sprite.Packer, atlasName string, doc Document, started time.Time) (string, error) {
	outDir := filepath.Join(p.outputDir, job.ExternalID)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	if err := atlas.Save(filepath.Join(outDir, atlasName)); err != nil {
		return "", err
	}

	resultName := fmt.Sprintf("detections_%s_%s.json", job.ID, started.Format("20060102T150405Z"))
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal result document: %w", err)
	}
	if err := os.WriteFile(filepath.Join(outDir, resultName), data, 0o644); err != nil {
		return "", fmt.Errorf("write result document: %w", err)
	}
	return filepath.Join(job.ExternalID, resultName), nil
}

// failJob records a worker-side failure on the job and fires the webhook.
// Runs on a fresh context because the job context may already be cancelled.
// The record is re-read first: a job cancelled mid-run is already terminal
// and must not be rewritten to failed.
func (p *Processor) failJob(job *store.Job, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	current, err := p.store.GetByID(ctx, job.ID)
	if err != nil {
		p.logger.Error("load job for failure write",
			logging.String(logging.FieldJobID, job.ID),
			logging.Error(err))
		return
	}
	if current.Status.Terminal() {
		p.logger.Info("skipping failure write for finished job",
			logging.String(logging.FieldJobID, job.ID),
			logging.String(logging.FieldStatus, string(current.Status)),
			logging.Error(cause))
		return
	}

	now := p.now().UTC()
	current.Status = store.StatusFailed
	current.ErrorMessage = cause.Error()
	current.EndTime = &now
	if err := p.store.Update(ctx, current); err != nil {
		p.logger.Error("persist failed job",
			logging.String(logging.FieldJobID, job.ID),
			logging.Error(err))
		return
	}
	p.logger.Warn("job failed",
		logging.String(logging.FieldJobID, current.ID),
		logging.String(logging.FieldExternalID, current.ExternalID),
		logging.Error(cause))
	p.notify(current)
}

func (p *Processor) notify(job *store.Job) {
	if p.notifier == nil {
		return
	}
	// Delivery retries can outlast the job, so they run detached.
	go func() {
		_ = p.notifier.NotifyCompletion(context.Background(), job)
	}()
}

func (p *Processor) removeScratch(jobID, path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		p.logger.Warn("remove scratch video",
			logging.String(logging.FieldJobID, jobID),
			logging.Error(err))
	}
}

// cropFrame extracts the detection box clamped to the frame. Returns nil for
// degenerate boxes.
func cropFrame(frame *image.RGBA, box vision.Rect) image.Image {
	bounds := frame.Bounds()
	rect := image.Rect(box.X, box.Y, box.X+box.Width, box.Y+box.Height).Intersect(bounds)
	if rect.Empty() {
		return nil
	}
	return frame.SubImage(rect)
}
