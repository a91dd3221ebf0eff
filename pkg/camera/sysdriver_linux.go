package camera

import (
	"context"
	"errors"
	"time"

	"github.com/vladimirvivien/go4vl/v4l2"
	"golang.org/x/sys/unix"
)

// SysDriver talks to a real V4L2 device node through go4vl's free functions.
// The device.Device type is not used because its stream goroutine owns the
// buffers; here the Capture decides when a buffer moves between user space and
// the driver.
type SysDriver struct {
	path  string
	fd    uintptr
	count uint32
}

func NewSysDriver() *SysDriver {
	return &SysDriver{}
}

func (d *SysDriver) Open(path string) error {
	fd, err := v4l2.OpenDevice(path, unix.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		return err
	}
	d.path = path
	d.fd = fd

	return nil
}

func (d *SysDriver) SetFormat(want v4l2.PixFormat) (v4l2.PixFormat, error) {
	if err := v4l2.SetPixFormat(d.fd, want); err != nil {
		return v4l2.PixFormat{}, err
	}

	return v4l2.GetPixFormat(d.fd)
}

func (d *SysDriver) RequestBuffers(count uint32) (uint32, error) {
	d.count = count
	req, err := v4l2.InitBuffers(stream{d})
	if err != nil {
		return 0, err
	}
	d.count = req.Count

	return req.Count, nil
}

func (d *SysDriver) QueryBuffer(index uint32) (Slot, error) {
	buf, err := v4l2.GetBuffer(stream{d}, index)
	if err != nil {
		return Slot{}, err
	}

	return slotOf(buf), nil
}

func (d *SysDriver) Map(slot Slot) ([]byte, error) {
	return unix.Mmap(int(d.fd), int64(slot.Offset), int(slot.Length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

func (d *SysDriver) Unmap(buf []byte) error {
	return unix.Munmap(buf)
}

func (d *SysDriver) Queue(index uint32) error {
	_, err := v4l2.QueueBuffer(d.fd, v4l2.IOTypeMMAP, v4l2.BufTypeVideoCapture, index)
	return err
}

func (d *SysDriver) Dequeue() (Slot, error) {
	buf, err := v4l2.DequeueBuffer(d.fd, v4l2.IOTypeMMAP, v4l2.BufTypeVideoCapture)
	if err != nil {
		return Slot{}, err
	}

	return slotOf(buf), nil
}

func (d *SysDriver) StreamOn() error {
	return v4l2.StreamOn(stream{d})
}

func (d *SysDriver) StreamOff() error {
	return v4l2.StreamOff(stream{d})
}

// Wait polls the descriptor directly. go4vl's WaitForRead starts a select
// loop that never exits, one per call.
func (d *SysDriver) Wait(timeout time.Duration) (bool, error) {
	fds := []unix.PollFd{{Fd: int32(d.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, int(timeout/time.Millisecond))
	if err != nil {
		return false, err
	}

	return n > 0, nil
}

func (d *SysDriver) Close() error {
	return v4l2.CloseDevice(d.fd)
}

func (d *SysDriver) Controls() ([]v4l2.Control, error) {
	return v4l2.QueryAllExtControls(d.fd)
}

func (d *SysDriver) SetControl(id v4l2.CtrlID, value v4l2.CtrlValue) error {
	return v4l2.SetControlValue(d.fd, id, value)
}

func slotOf(buf v4l2.Buffer) Slot {
	return Slot{
		Index:     buf.Index,
		Offset:    buf.Info.Offset,
		Length:    buf.Length,
		BytesUsed: buf.BytesUsed,
		Sequence:  buf.Sequence,
	}
}

var errStreamOwned = errors.New("streaming is driven by camera.Capture")

// stream presents a SysDriver as a v4l2.StreamingDevice so go4vl's buffer
// request, query and stream on/off helpers can be used. Those helpers only
// read the descriptor, the IO and buffer types and the buffer count.
type stream struct {
	d *SysDriver
}

var _ v4l2.StreamingDevice = stream{}

func (s stream) Name() string                { return s.d.path }
func (s stream) Fd() uintptr                 { return s.d.fd }
func (s stream) Capability() v4l2.Capability { return v4l2.Capability{} }
func (s stream) MemIOType() v4l2.IOType      { return v4l2.IOTypeMMAP }
func (s stream) GetOutput() <-chan []byte    { return nil }
func (s stream) SetInput(<-chan []byte)      {}
func (s stream) Close() error                { return s.d.Close() }
func (s stream) Buffers() [][]byte           { return nil }
func (s stream) BufferType() v4l2.BufType    { return v4l2.BufTypeVideoCapture }
func (s stream) BufferCount() uint32         { return s.d.count }
func (s stream) Start(context.Context) error { return errStreamOwned }
func (s stream) Stop() error                 { return s.d.StreamOff() }
