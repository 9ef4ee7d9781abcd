package recorder

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/rxtools/scanrec/internal/eventlog"
	"github.com/rxtools/scanrec/internal/metrics"
	"github.com/rxtools/scanrec/internal/types"
)

// uploadTimeout bounds a single S3 upload attempt.
const uploadTimeout = 5 * time.Minute

// MaxUploadRetryAge is the maximum age for retrying uploads.
const MaxUploadRetryAge = 24 * time.Hour

// createS3Client creates an S3 client with the given options.
func createS3Client(opts *S3Options) (*s3.Client, error) {
	creds := credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")

	clientOpts := []func(*s3.Options){
		func(o *s3.Options) {
			o.Credentials = creds
			o.Region = opts.Region
			if o.Region == "" {
				o.Region = "auto"
			}
		},
	}

	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		})
	}

	return s3.New(s3.Options{}, clientOpts...), nil
}

// contentTypeFor maps capture codecs to MIME types.
func contentTypeFor(codec types.Codec) string {
	switch codec {
	case types.CodecMP3:
		return "audio/mpeg"
	case types.CodecOGG:
		return "audio/ogg"
	case types.CodecFLAC:
		return "audio/flac"
	default:
		return "application/octet-stream"
	}
}

// queueForUpload hands a converted capture to the upload worker when the
// storage mode requires it.
func (r *SignalRecorder) queueForUpload(localPath string, fileSize int64) {
	if r.cfg.StorageMode == types.StorageLocal {
		return
	}
	if r.s3Client == nil {
		slog.Warn("S3 not configured but storage mode requires it", "mode", r.cfg.StorageMode)
		return
	}

	s3Key := filepath.Base(localPath)
	if r.cfg.S3.Prefix != "" {
		s3Key = r.cfg.S3.Prefix + "/" + s3Key
	}

	select {
	case r.uploadQueue <- uploadRequest{localPath: localPath, s3Key: s3Key, fileSize: fileSize}:
		slog.Info("queued capture for upload", "file", filepath.Base(localPath))
		if r.eventLogger != nil {
			_ = r.eventLogger.LogCapture(eventlog.UploadQueued, &eventlog.CaptureDetails{
				Filename: filepath.Base(localPath),
				S3Key:    s3Key,
			})
		}
	default:
		slog.Warn("upload queue full", "file", filepath.Base(localPath))
	}
}

// uploadWorker processes the upload queue, draining remaining items on
// shutdown.
func (r *SignalRecorder) uploadWorker() {
	defer r.wg.Done()

	for {
		select {
		case <-r.stopCh:
			for {
				select {
				case req := <-r.uploadQueue:
					r.uploadFile(req)
				default:
					return
				}
			}
		case req := <-r.uploadQueue:
			r.uploadFile(req)
		}
	}
}

// uploadFile uploads to S3 and deletes the local file in S3-only mode.
func (r *SignalRecorder) uploadFile(req uploadRequest) {
	if err := r.putObject(req); err != nil {
		metrics.UploadsFailed.Inc()
		slog.Error("upload failed", "s3_key", req.s3Key, "error", err)
		if r.eventLogger != nil {
			_ = r.eventLogger.LogCapture(eventlog.UploadFailed, &eventlog.CaptureDetails{
				Filename: filepath.Base(req.localPath),
				S3Key:    req.s3Key,
				Error:    err.Error(),
			})
		}
		r.addToRetryQueue(req, err.Error())
		return
	}

	metrics.UploadsCompleted.Inc()
	slog.Info("upload completed", "s3_key", req.s3Key)
	if r.eventLogger != nil {
		_ = r.eventLogger.LogCapture(eventlog.UploadCompleted, &eventlog.CaptureDetails{
			Filename: filepath.Base(req.localPath),
			S3Key:    req.s3Key,
		})
	}

	if r.cfg.StorageMode == types.StorageS3 {
		if err := os.Remove(req.localPath); err != nil {
			slog.Warn("failed to delete local file after upload", "path", req.localPath, "error", err)
		}
	}
}

// putObject performs one upload attempt.
func (r *SignalRecorder) putObject(req uploadRequest) error {
	ctx, cancel := context.WithTimeoutCause(
		context.Background(),
		uploadTimeout,
		errors.New("s3 upload timeout"),
	)
	defer cancel()

	file, err := os.Open(req.localPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Warn("failed to close file after upload", "path", req.localPath, "error", err)
		}
	}()

	_, err = r.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(r.cfg.S3.Bucket),
		Key:           aws.String(req.s3Key),
		Body:          file,
		ContentLength: aws.Int64(req.fileSize),
		ContentType:   aws.String(contentTypeFor(r.cfg.Codec)),
	})
	return err
}

// addToRetryQueue records a failed upload for a later attempt.
func (r *SignalRecorder) addToRetryQueue(req uploadRequest, errMsg string) {
	r.retryMu.Lock()
	defer r.retryMu.Unlock()

	for _, p := range r.retryQueue {
		if p.request.localPath == req.localPath {
			return
		}
	}

	r.retryQueue = append(r.retryQueue, pendingUpload{
		request:      req,
		firstAttempt: time.Now(),
		lastError:    errMsg,
	})

	slog.Info("upload queued for retry", "file", filepath.Base(req.localPath))
}

// processRetryQueue re-attempts pending uploads. Called from the
// retention sweep tick.
func (r *SignalRecorder) processRetryQueue() {
	r.retryMu.Lock()
	if len(r.retryQueue) == 0 {
		r.retryMu.Unlock()
		return
	}
	pending := r.retryQueue
	r.retryQueue = nil
	r.retryMu.Unlock()

	now := time.Now()

	for i := range pending {
		p := &pending[i]

		if now.Sub(p.firstAttempt) > MaxUploadRetryAge {
			slog.Warn("upload abandoned",
				"file", filepath.Base(p.request.localPath),
				"attempts", p.retryCount+1,
				"last_error", p.lastError)
			continue
		}

		if _, err := os.Stat(p.request.localPath); os.IsNotExist(err) {
			continue
		}

		p.retryCount++
		slog.Info("retrying upload", "file", filepath.Base(p.request.localPath), "attempt", p.retryCount)

		if err := r.putObject(p.request); err != nil {
			p.lastError = err.Error()
			r.retryMu.Lock()
			r.retryQueue = append(r.retryQueue, *p)
			r.retryMu.Unlock()
			continue
		}

		metrics.UploadsCompleted.Inc()
		slog.Info("retry upload completed", "s3_key", p.request.s3Key)
		if r.cfg.StorageMode == types.StorageS3 {
			if err := os.Remove(p.request.localPath); err != nil {
				slog.Warn("failed to delete local file after retry upload", "path", p.request.localPath, "error", err)
			}
		}
	}
}
