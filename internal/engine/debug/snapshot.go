package debug

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
)

// Snapshotter writes numbered PNG snapshots to a directory.
type Snapshotter struct {
	outputDir string
	prefix    string
}

// NewSnapshotter creates a snapshotter. An empty outputDir writes to the working directory.
func NewSnapshotter(outputDir, prefix string) *Snapshotter {
	return &Snapshotter{
		outputDir: outputDir,
		prefix:    prefix,
	}
}

// Filename returns the path used for a frame's snapshot.
func (s *Snapshotter) Filename(frame uint64) string {
	filename := fmt.Sprintf("%s_%06d.png", s.prefix, frame)
	if s.outputDir != "" {
		filename = filepath.Join(s.outputDir, filename)
	}
	return filename
}

// Save encodes img as the snapshot of frame and returns the file written.
func (s *Snapshotter) Save(img image.Image, frame uint64) (string, error) {
	if s.outputDir != "" {
		if err := os.MkdirAll(s.outputDir, 0755); err != nil {
			return "", fmt.Errorf("creating output dir: %w", err)
		}
	}

	filename := s.Filename(frame)
	file, err := os.Create(filename)
	if err != nil {
		return "", fmt.Errorf("creating file: %w", err)
	}

	if err := png.Encode(file, img); err != nil {
		file.Close()
		return "", fmt.Errorf("encoding PNG: %w", err)
	}
	return filename, file.Close()
}
