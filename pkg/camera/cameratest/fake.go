// Package cameratest provides an in-memory camera.Driver for tests.
package cameratest

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/vladimirvivien/go4vl/v4l2"
	"golang.org/x/sys/unix"

	"shader-cam/pkg/camera"
)

// Driver emulates a V4L2 mmap capture device. The zero value is not usable,
// call New.
type Driver struct {
	mu sync.Mutex

	// GrantWidth and GrantHeight override the requested size when non zero.
	GrantWidth, GrantHeight uint32
	// GrantFormat overrides the requested pixel format when non zero.
	GrantFormat v4l2.FourCCType
	// Granted is the buffer count returned by RequestBuffers.
	Granted uint32
	// Fail makes the named op fail with the given error. Op names are open,
	// format, reqbufs, querybuf, queue, dequeue, streamon, streamoff, close.
	Fail map[string]error
	// Transient makes the named op fail with EINTR or EAGAIN, alternating,
	// that many times before it runs. Op names are as for Fail.
	Transient map[string]int
	// Attempts counts calls per op name, including failed ones.
	Attempts map[string]int
	// MapFailAt makes Map fail for that slot index, -1 disables it.
	MapFailAt int
	// Interrupts is the number of waits that return EINTR before anything
	// else happens.
	Interrupts int
	// NeverReady makes every wait time out.
	NeverReady bool
	// Ctrls is the control set. A nil slice still satisfies
	// camera.ControlDriver.
	Ctrls []v4l2.Control

	format    v4l2.PixFormat
	slots     []camera.Slot
	mapped    map[*byte]uint32
	bufs      map[uint32][]byte
	queue     []uint32
	streaming bool
	seq       uint32

	Opens, Closes    int
	Maps, Unmaps     int
	DoubleUnmaps     int
	QueuedAtStreamOn int
	Waits            int
	Requeues         int
	// Dequeued lists every index handed out, in order. Only queued buffers
	// can be dequeued.
	Dequeued []uint32
}

func New() *Driver {
	return &Driver{
		Granted:   camera.BufferCount,
		Fail:      map[string]error{},
		Transient: map[string]int{},
		Attempts:  map[string]int{},
		MapFailAt: -1,
		mapped:    map[*byte]uint32{},
		bufs:      map[uint32][]byte{},
	}
}

func (d *Driver) fail(op string) error {
	if d.Fail == nil {
		return nil
	}
	return d.Fail[op]
}

// enter records an attempt of op and returns the error it should fail with.
func (d *Driver) enter(op string) error {
	if d.Attempts == nil {
		d.Attempts = map[string]int{}
	}
	d.Attempts[op]++
	if n := d.Transient[op]; n > 0 {
		d.Transient[op] = n - 1
		if n%2 == 0 {
			return unix.EAGAIN
		}
		return unix.EINTR
	}

	return d.fail(op)
}

func (d *Driver) Open(string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("open"); err != nil {
		return err
	}
	d.Opens++
	return nil
}

func (d *Driver) SetFormat(want v4l2.PixFormat) (v4l2.PixFormat, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("format"); err != nil {
		return v4l2.PixFormat{}, err
	}
	got := want
	if d.GrantWidth != 0 {
		got.Width = d.GrantWidth
	}
	if d.GrantHeight != 0 {
		got.Height = d.GrantHeight
	}
	if d.GrantFormat != 0 {
		got.PixelFormat = d.GrantFormat
	}
	got.BytesPerLine = got.Width * uint32(camera.BytesPerPixel(got.PixelFormat))
	got.SizeImage = got.BytesPerLine * got.Height
	d.format = got

	return got, nil
}

func (d *Driver) RequestBuffers(count uint32) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("reqbufs"); err != nil {
		return 0, err
	}
	n := d.Granted
	if n > count {
		n = count
	}
	d.slots = make([]camera.Slot, n)
	for i := range d.slots {
		d.slots[i] = camera.Slot{
			Index:  uint32(i),
			Offset: uint32(i) * 4096,
			Length: d.format.SizeImage,
		}
	}

	return n, nil
}

func (d *Driver) QueryBuffer(index uint32) (camera.Slot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("querybuf"); err != nil {
		return camera.Slot{}, err
	}
	if int(index) >= len(d.slots) {
		return camera.Slot{}, unix.EINVAL
	}
	return d.slots[index], nil
}

func (d *Driver) Map(s camera.Slot) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if int(s.Index) == d.MapFailAt {
		return nil, unix.ENOMEM
	}
	// one spare byte keeps &data[0] valid for zero length slots
	data := make([]byte, s.Length, s.Length+1)
	d.mapped[&data[:1][0]] = s.Index
	d.bufs[s.Index] = data
	d.Maps++

	return data, nil
}

func (d *Driver) Unmap(data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := &data[:1][0]
	index, ok := d.mapped[key]
	if !ok {
		d.DoubleUnmaps++
		return unix.EINVAL
	}
	delete(d.mapped, key)
	delete(d.bufs, index)
	d.Unmaps++

	return nil
}

// Mapped returns the number of buffers currently mapped.
func (d *Driver) Mapped() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.mapped)
}

func (d *Driver) Queue(index uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("queue"); err != nil {
		return err
	}
	if int(index) >= len(d.slots) {
		return unix.EINVAL
	}
	for _, q := range d.queue {
		if q == index {
			return unix.EINVAL
		}
	}
	d.queue = append(d.queue, index)
	if d.streaming {
		d.Requeues++
	}

	return nil
}

// Dequeue hands out the oldest queued buffer with its sequence number
// written into the first four bytes.
func (d *Driver) Dequeue() (camera.Slot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("dequeue"); err != nil {
		return camera.Slot{}, err
	}
	if !d.streaming || len(d.queue) == 0 {
		return camera.Slot{}, unix.EINVAL
	}
	index := d.queue[0]
	d.queue = d.queue[1:]
	d.Dequeued = append(d.Dequeued, index)

	s := d.slots[index]
	s.Sequence = d.seq
	s.BytesUsed = s.Length
	if data := d.bufs[index]; len(data) >= 4 {
		binary.LittleEndian.PutUint32(data, d.seq)
	}
	d.seq++

	return s, nil
}

// Queued returns the indices currently owned by the driver, oldest first.
func (d *Driver) Queued() []uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]uint32(nil), d.queue...)
}

func (d *Driver) StreamOn() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("streamon"); err != nil {
		return err
	}
	d.streaming = true
	d.QueuedAtStreamOn = len(d.queue)

	return nil
}

func (d *Driver) StreamOff() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("streamoff"); err != nil {
		return err
	}
	d.streaming = false
	d.queue = nil

	return nil
}

// Streaming reports whether StreamOn was called without a later StreamOff.
func (d *Driver) Streaming() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streaming
}

func (d *Driver) Wait(time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Waits++
	if d.Interrupts > 0 {
		d.Interrupts--
		return false, unix.EINTR
	}
	if d.NeverReady {
		return false, nil
	}

	return d.streaming && len(d.queue) > 0, nil
}

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Closes++
	return d.fail("close")
}

func (d *Driver) Controls() ([]v4l2.Control, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]v4l2.Control(nil), d.Ctrls...), nil
}

func (d *Driver) SetControl(id v4l2.CtrlID, value v4l2.CtrlValue) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.Ctrls {
		if d.Ctrls[i].ID != id {
			continue
		}
		if int32(value) < d.Ctrls[i].Minimum || int32(value) > d.Ctrls[i].Maximum {
			return unix.ERANGE
		}
		d.Ctrls[i].Value = value
		return nil
	}

	return unix.EINVAL
}
