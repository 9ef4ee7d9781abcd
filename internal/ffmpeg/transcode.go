package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/rxtools/scanrec/internal/types"
	"github.com/rxtools/scanrec/internal/util"
)

// TranscodeTimeout bounds a single staging-to-compressed conversion.
const TranscodeTimeout = 60 * time.Second

// RawInputArgs returns FFmpeg arguments for reading a staged raw PCM file.
func RawInputArgs(stagingPath string) []string {
	return []string{
		"-f", "s16le",
		"-ar", fmt.Sprintf("%d", types.SampleRate),
		"-ac", fmt.Sprintf("%d", types.Channels),
		"-i", stagingPath,
	}
}

// Transcode converts a staged raw PCM file into the compressed output
// format for the given codec. Returns the output size in bytes.
func Transcode(ctx context.Context, ffmpegPath, stagingPath, outputPath string, codec types.Codec) (int64, error) {
	ctx, cancel := context.WithTimeoutCause(ctx, TranscodeTimeout, errors.New("ffmpeg transcode timeout"))
	defer cancel()

	args := append(RawInputArgs(stagingPath),
		"-c:a")
	args = append(args, types.CodecArgsFor(codec)...)
	args = append(args,
		"-f", types.FormatFor(codec),
		"-y", outputPath,
	)

	cmd := exec.CommandContext(ctx, ffmpegPath, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if cause := context.Cause(ctx); cause != nil && ctx.Err() != nil {
			return 0, cause
		}
		if last := util.ExtractLastError(string(output)); last != "" {
			return 0, fmt.Errorf("ffmpeg: %s: %w", last, err)
		}
		return 0, util.WrapError("run ffmpeg", err)
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		return 0, util.WrapError("stat output", err)
	}
	return info.Size(), nil
}
