package cyw43

// Static frame storage for the data-path bridge. All buffers are
// allocated once at Init, sized to the bus MTU, and recycled through a
// free list; the steady state does zero heap allocation.

type frameBuf struct {
	data [MTU]byte
	n    uint16
}

// framePool is a fixed arena of MTU-sized frame buffers with a LIFO
// free list of indices.
type framePool struct {
	bufs []frameBuf
	free []uint16
}

func (p *framePool) init(n int) {
	p.bufs = make([]frameBuf, n)
	p.free = make([]uint16, n)
	for i := range p.free {
		p.free[i] = uint16(i)
	}
}

func (p *framePool) alloc() (idx uint16, ok bool) {
	if len(p.free) == 0 {
		return 0, false
	}
	idx = p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	return idx, true
}

func (p *framePool) release(idx uint16) {
	p.bufs[idx].n = 0
	p.free = append(p.free, idx)
}

func (p *framePool) frame(idx uint16) *frameBuf { return &p.bufs[idx] }

// frameRing is a power-of-two ring of frame indices into the pool.
type frameRing struct {
	idx  []uint16
	head uint32
	tail uint32
}

func (r *frameRing) init(depth int) {
	r.idx = make([]uint16, depth)
	r.head = 0
	r.tail = 0
}

func (r *frameRing) full() bool  { return r.head-r.tail == uint32(len(r.idx)) }
func (r *frameRing) empty() bool { return r.head == r.tail }
func (r *frameRing) len() int    { return int(r.head - r.tail) }

func (r *frameRing) push(idx uint16) bool {
	if r.full() {
		return false
	}
	r.idx[r.head&uint32(len(r.idx)-1)] = idx
	r.head++
	return true
}

func (r *frameRing) pop() (idx uint16, ok bool) {
	if r.empty() {
		return 0, false
	}
	idx = r.idx[r.tail&uint32(len(r.idx)-1)]
	r.tail++
	return idx, true
}

// enqueueRx copies a received ethernet payload into the receive queue.
// When the queue or pool is exhausted the oldest queued frame is
// recycled to make room, counting the drop. Oversized frames are
// dropped outright.
func (d *Device) enqueueRx(payload []byte) {
	if len(payload) > MTU {
		d.rxDrops++
		return
	}
	idx, ok := d.pool.alloc()
	if !ok {
		old, popped := d.rxq.pop()
		if !popped {
			d.rxDrops++ // Pool exhausted by tx side, nothing to recycle.
			return
		}
		d.rxDrops++
		idx = old
	} else if d.rxq.full() {
		old, _ := d.rxq.pop()
		d.pool.release(old)
		d.rxDrops++
	}
	fb := d.pool.frame(idx)
	fb.n = uint16(copy(fb.data[:], payload))
	d.rxq.push(idx)
}

// RxDrops returns how many received frames were discarded because the
// receive queue was full or the frame exceeded the MTU.
func (d *Device) RxDrops() uint32 {
	d.lock()
	defer d.unlock()
	return d.rxDrops
}
