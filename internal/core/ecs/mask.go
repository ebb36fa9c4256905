package ecs

// mask is a growable bitset over ComponentIDs.
type mask []uint64

func (m mask) has(id ComponentID) bool {
	w := int(id >> 6)
	return w < len(m) && m[w]&(1<<(id&63)) != 0
}

func (m *mask) set(id ComponentID) {
	w := int(id >> 6)
	for len(*m) <= w {
		*m = append(*m, 0)
	}
	(*m)[w] |= 1 << (id & 63)
}

func (m mask) clear(id ComponentID) {
	w := int(id >> 6)
	if w < len(m) {
		m[w] &^= 1 << (id & 63)
	}
}

// containsAll reports whether every bit of other is set in m.
func (m mask) containsAll(other mask) bool {
	for i, bits := range other {
		var mine uint64
		if i < len(m) {
			mine = m[i]
		}
		if mine&bits != bits {
			return false
		}
	}
	return true
}

// intersects reports whether m and other share any bit.
func (m mask) intersects(other mask) bool {
	for i, bits := range other {
		if i < len(m) && m[i]&bits != 0 {
			return true
		}
	}
	return false
}

func (m mask) ids() []ComponentID {
	var out []ComponentID
	for w, bits := range m {
		for b := 0; b < 64; b++ {
			if bits&(1<<b) != 0 {
				out = append(out, ComponentID(w*64+b))
			}
		}
	}
	return out
}
