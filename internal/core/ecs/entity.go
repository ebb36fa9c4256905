package ecs

import "fmt"

// Entity encodes a 32-bit slot index in the lower bits and a 32-bit
// generation in the upper bits. The generation moves on every destroy so a
// handle kept past its entity's lifetime is detectably stale.
type Entity uint64

// Nil is never handed out by a pool.
const Nil Entity = 0

func newEntity(index, generation uint32) Entity {
	return Entity(uint64(generation)<<32 | uint64(index))
}

func (e Entity) Index() uint32      { return uint32(e) }
func (e Entity) Generation() uint32 { return uint32(e >> 32) }

func (e Entity) String() string {
	return fmt.Sprintf("%d:%d", e.Index(), e.Generation())
}

// EntityPool hands out generational entity handles and recycles slots through
// a free list.
type EntityPool struct {
	generations []uint32
	live        []bool
	freeList    []uint32
	count       int
}

func NewEntityPool() *EntityPool {
	return &EntityPool{
		generations: make([]uint32, 0, 256),
		live:        make([]bool, 0, 256),
		freeList:    make([]uint32, 0, 64),
	}
}

// Create returns a handle that has never been live before. Recycled slots get
// a bumped generation.
func (p *EntityPool) Create() Entity {
	p.count++
	if n := len(p.freeList); n > 0 {
		idx := p.freeList[n-1]
		p.freeList = p.freeList[:n-1]
		p.live[idx] = true
		return newEntity(idx, p.generations[idx])
	}
	idx := uint32(len(p.generations))
	p.generations = append(p.generations, 1)
	p.live = append(p.live, true)
	return newEntity(idx, 1)
}

func (p *EntityPool) Alive(e Entity) bool {
	idx := e.Index()
	if int(idx) >= len(p.generations) {
		return false
	}
	return p.live[idx] && p.generations[idx] == e.Generation()
}

// Destroy releases the slot. Destroying a stale or unknown handle returns
// ErrEntityNotAlive and changes nothing.
func (p *EntityPool) Destroy(e Entity) error {
	if !p.Alive(e) {
		return fmt.Errorf("destroy %s: %w", e, ErrEntityNotAlive)
	}
	idx := e.Index()
	p.live[idx] = false
	p.generations[idx]++
	if p.generations[idx] == 0 {
		// wrapped; skip the generation that collides with Nil
		p.generations[idx] = 1
	}
	p.freeList = append(p.freeList, idx)
	p.count--
	return nil
}

// Len is the number of live entities.
func (p *EntityPool) Len() int { return p.count }
