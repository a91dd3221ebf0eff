package storage

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"

	"shader-cam/pkg/types"
)

var ErrNoImage = errors.New("no image saved yet")

// Storage keeps snapshots under <dir>/images with an info.json index and
// hands out paths for recordings under <dir>/videos.
type Storage struct {
	lock  sync.Mutex
	dir   string
	clock Clock
}

type ImagesInfo struct {
	MaxNumber   int    `json:"maxNumber"`
	LatestImage string `json:"latestImage"`

	UpdateAt time.Time `json:"updateAt"`
}

func New(dir string, clock Clock) (*Storage, error) {
	if dir == "" {
		return nil, fmt.Errorf("storage dir can not be empty")
	}
	if clock == nil {
		clock = SystemClock{}
	}
	s := &Storage{dir: dir, clock: clock}

	if err := mkdirAll(s.imageDir(), s.videoDir()); err != nil {
		return nil, err
	}
	_, err := os.Stat(s.infoPath())
	if os.IsNotExist(err) {
		return s, s.dumpImageInfo(&ImagesInfo{})
	}

	return s, err
}

func (s *Storage) Dir() string {
	return s.dir
}

// SaveImage writes a JPEG snapshot and returns its file name.
func (s *Storage) SaveImage(image []byte) (string, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	info, err := s.loadImageInfo()
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s-%d%s", s.clock.Now().Format(timeLayout), info.MaxNumber, DefaultImageExt)
	if err = os.WriteFile(path.Join(s.imageDir(), name), image, DefaultFilePerm); err != nil {
		return "", err
	}

	info.MaxNumber++
	info.LatestImage = name
	if err = s.dumpImageInfo(info); err != nil {
		return "", err
	}

	return name, nil
}

func (s *Storage) LatestImageName() (string, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	info, err := s.loadImageInfo()
	if err != nil {
		return "", err
	}
	if info.LatestImage == "" {
		return "", ErrNoImage
	}

	return info.LatestImage, nil
}

func (s *Storage) LatestImage() ([]byte, error) {
	name, err := s.LatestImageName()
	if err != nil {
		return nil, err
	}

	return s.GetImage(name)
}

func (s *Storage) GetImage(name string) ([]byte, error) {
	if name == "" || filepath.Base(name) != name {
		return nil, fmt.Errorf("invalid image name %q", name)
	}
	file, err := os.ReadFile(path.Join(s.imageDir(), name))
	if err != nil {
		return nil, fmt.Errorf("picture not found, %w", err)
	}

	return file, nil
}

// ListImages returns the saved snapshots, oldest first.
func (s *Storage) ListImages() ([]types.File, error) {
	entries, err := os.ReadDir(s.imageDir())
	if err != nil {
		return nil, err
	}
	res := make([]types.File, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), DefaultImageExt) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			return nil, err
		}
		res = append(res, types.File{
			Name:    e.Name(),
			Size:    humanize.Bytes(uint64(fi.Size())),
			ModTime: fi.ModTime(),
		})
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].ModTime.Before(res[j].ModTime) ||
			res[i].ModTime.Equal(res[j].ModTime) && res[i].Name < res[j].Name
	})

	return res, nil
}

// NewVideoPath returns a fresh recording path named after the current time.
func (s *Storage) NewVideoPath() string {
	return path.Join(s.videoDir(), s.clock.Now().Format(timeLayout)+DefaultVideoExt)
}

func (s *Storage) loadImageInfo() (*ImagesInfo, error) {
	data, err := os.ReadFile(s.infoPath())
	if err != nil {
		return nil, fmt.Errorf("read image info err: %w", err)
	}
	info := &ImagesInfo{}
	if err = json.Unmarshal(data, info); err != nil {
		return nil, fmt.Errorf("unmarshal image info err: %w", err)
	}

	return info, nil
}

func (s *Storage) dumpImageInfo(info *ImagesInfo) error {
	info.UpdateAt = s.clock.Now()
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}

	return os.WriteFile(s.infoPath(), data, DefaultFilePerm)
}

func (s *Storage) imageDir() string {
	return path.Join(s.dir, DefaultImagesDir)
}

func (s *Storage) videoDir() string {
	return path.Join(s.dir, DefaultVideosDir)
}

func (s *Storage) infoPath() string {
	return path.Join(s.dir, DefaultImagesDir, DefaultInfoFile)
}

func mkdirAll(dirs ...string) error {
	for _, d := range dirs {
		if err := os.MkdirAll(d, DefaultDirPerm); err != nil {
			return err
		}
	}
	return nil
}
