package bins

import (
	"maps"
	"math/bits"
)

// word is a 256-bit bitmap.
type word [4]uint64

func (w *word) set(i uint32)   { w[i>>6] |= 1 << (i & 63) }
func (w *word) clear(i uint32) { w[i>>6] &^= 1 << (i & 63) }
func (w word) has(i uint32) bool {
	return w[i>>6]&(1<<(i&63)) != 0
}
func (w word) isZero() bool { return w[0]|w[1]|w[2]|w[3] == 0 }

// highestAtOrBelow returns the highest set bit <= i.
func (w word) highestAtOrBelow(i uint32) (uint32, bool) {
	limb := int(i >> 6)
	off := i & 63
	v := w[limb] & ((2 << off) - 1)
	for {
		if v != 0 {
			return uint32(limb)<<6 | uint32(63-bits.LeadingZeros64(v)), true
		}
		limb--
		if limb < 0 {
			return 0, false
		}
		v = w[limb]
	}
}

// lowestAtOrAbove returns the lowest set bit >= i.
func (w word) lowestAtOrAbove(i uint32) (uint32, bool) {
	limb := int(i >> 6)
	off := i & 63
	v := w[limb] &^ ((1 << off) - 1)
	for {
		if v != 0 {
			return uint32(limb)<<6 | uint32(bits.TrailingZeros64(v)), true
		}
		limb++
		if limb > 3 {
			return 0, false
		}
		v = w[limb]
	}
}

func (w word) highest() uint32 {
	h, _ := w.highestAtOrBelow(255)
	return h
}

func (w word) lowest() uint32 {
	l, _ := w.lowestAtOrAbove(0)
	return l
}

// Tree is a three level 256-ary bitmap over the 24-bit id space. Level 0 marks
// populated top bytes, level 1 populated middle bytes and level 2 the ids.
type Tree struct {
	level0 word
	level1 [256]word
	level2 map[uint32]word
}

// NewTree returns an empty tree.
func NewTree() *Tree {
	return &Tree{level2: make(map[uint32]word)}
}

// Clone returns an independent copy.
func (t *Tree) Clone() *Tree {
	c := *t
	c.level2 = maps.Clone(t.level2)
	if c.level2 == nil {
		c.level2 = make(map[uint32]word)
	}
	return &c
}

// Contains reports whether id is set.
func (t *Tree) Contains(id uint32) bool {
	leaves, ok := t.level2[id>>8]
	return ok && leaves.has(id&255)
}

// Add sets id.
func (t *Tree) Add(id uint32) {
	key2 := id >> 8
	leaves := t.level2[key2]
	leaves.set(id & 255)
	t.level2[key2] = leaves
	t.level1[key2>>8].set(key2 & 255)
	t.level0.set(key2 >> 8)
}

// Remove clears id, pruning emptied words.
func (t *Tree) Remove(id uint32) {
	key2 := id >> 8
	leaves, ok := t.level2[key2]
	if !ok {
		return
	}
	leaves.clear(id & 255)
	if !leaves.isZero() {
		t.level2[key2] = leaves
		return
	}
	delete(t.level2, key2)
	key1 := key2 >> 8
	t.level1[key1].clear(key2 & 255)
	if t.level1[key1].isZero() {
		t.level0.clear(key1)
	}
}

// FindFirstRight returns the nearest set id strictly below id.
func (t *Tree) FindFirstRight(id uint32) (uint32, bool) {
	key2 := id >> 8
	if bit := id & 255; bit != 0 {
		if closest, ok := t.level2[key2].highestAtOrBelow(bit - 1); ok {
			return key2<<8 | closest, true
		}
	}
	key1 := id >> 16
	if bit := key2 & 255; bit != 0 {
		if closest, ok := t.level1[key1].highestAtOrBelow(bit - 1); ok {
			k2 := key1<<8 | closest
			return k2<<8 | t.level2[k2].highest(), true
		}
	}
	if bit := key1 & 255; bit != 0 {
		if closest, ok := t.level0.highestAtOrBelow(bit - 1); ok {
			k2 := closest<<8 | t.level1[closest].highest()
			return k2<<8 | t.level2[k2].highest(), true
		}
	}
	return 0, false
}

// FindFirstLeft returns the nearest set id strictly above id.
func (t *Tree) FindFirstLeft(id uint32) (uint32, bool) {
	key2 := id >> 8
	if bit := id & 255; bit != 255 {
		if closest, ok := t.level2[key2].lowestAtOrAbove(bit + 1); ok {
			return key2<<8 | closest, true
		}
	}
	key1 := id >> 16
	if bit := key2 & 255; bit != 255 {
		if closest, ok := t.level1[key1].lowestAtOrAbove(bit + 1); ok {
			k2 := key1<<8 | closest
			return k2<<8 | t.level2[k2].lowest(), true
		}
	}
	if bit := key1 & 255; bit != 255 {
		if closest, ok := t.level0.lowestAtOrAbove(bit + 1); ok {
			k2 := closest<<8 | t.level1[closest].lowest()
			return k2<<8 | t.level2[k2].lowest(), true
		}
	}
	return 0, false
}
