package camera

import (
	"go.uber.org/multierr"
)

// buffer is one capture buffer mapped into our address space.
type buffer struct {
	data   []byte
	length uint32
}

// pool owns the mapped buffers. Slot i of the driver is buffers[i].
type pool struct {
	buffers []buffer
}

// mapAll queries and maps n driver buffers. On failure the buffers mapped so
// far stay in the pool so release can unmap them.
func (p *pool) mapAll(drv Driver, n uint32) error {
	p.buffers = make([]buffer, 0, n)
	for i := uint32(0); i < n; i++ {
		var slot Slot
		err := retry(func() (err error) {
			slot, err = drv.QueryBuffer(i)
			return
		})
		if err != nil {
			return ioctlErr("VIDIOC_QUERYBUF", err)
		}
		data, err := drv.Map(slot)
		if err != nil {
			return &Error{Kind: KindMmap, Op: "mmap", Err: err}
		}
		p.buffers = append(p.buffers, buffer{data: data, length: slot.Length})
	}

	return nil
}

func (p *pool) queueAll(drv Driver) error {
	for i := range p.buffers {
		idx := uint32(i)
		if err := retry(func() error { return drv.Queue(idx) }); err != nil {
			return ioctlErr("VIDIOC_QBUF", err)
		}
	}

	return nil
}

// release unmaps every buffer exactly once.
func (p *pool) release(drv Driver) error {
	var err error
	for i := range p.buffers {
		if e := drv.Unmap(p.buffers[i].data); e != nil {
			err = multierr.Append(err, &Error{Kind: KindMmap, Op: "munmap", Err: e})
		}
	}
	p.buffers = nil

	return err
}

func (p *pool) len() int {
	return len(p.buffers)
}

func (p *pool) get(index int) buffer {
	return p.buffers[index]
}
