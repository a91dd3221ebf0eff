package video

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/icza/mjpeg"

	"shader-cam/pkg/utils"
)

// Builder records JPEG frames into an MJPEG AVI file.
type Builder struct {
	path   string
	width  int
	height int
	fps    int

	cnt int
	aw  mjpeg.AviWriter
}

func NewBuilder(path string, width, height, fps int) (*Builder, error) {
	if fps <= 0 {
		return nil, fmt.Errorf("invalid fps %d", fps)
	}
	aw, err := mjpeg.New(path, int32(width), int32(height), int32(fps))
	if err != nil {
		return nil, err
	}

	return &Builder{
		path:   path,
		width:  width,
		height: height,
		fps:    fps,
		aw:     aw,
	}, nil
}

func (b *Builder) Add(frame []byte) error {
	err := b.aw.AddFrame(frame)
	if err != nil {
		return err
	}
	b.cnt++

	return nil
}

// Close finalizes the AVI index. It must be called for the file to play.
func (b *Builder) Close() error {
	if err := b.aw.Close(); err != nil {
		return err
	}
	if fi, err := os.Stat(b.path); err == nil {
		utils.GetLogger().Named("video").Infof("recorded %d frames %dx%d@%d to %s (%s)",
			b.cnt, b.width, b.height, b.fps, b.path, humanize.Bytes(uint64(fi.Size())))
	}

	return nil
}

func (b *Builder) GetCnt() int {
	return b.cnt
}

func (b *Builder) Path() string {
	return b.path
}
