package command

import "sort"

// Bucket merges one connection's commands for one tick with replace
// semantics: at most one command survives per (type, replace key).
type Bucket struct {
	cmds   map[Key]Command
	maxSeq uint32
}

func NewBucket() *Bucket {
	return &Bucket{cmds: make(map[Key]Command)}
}

// MergeReplace overwrites any earlier command with the same key. Within one
// call the later command in cmds wins; across calls the later call wins.
func (b *Bucket) MergeReplace(clientSeq uint32, cmds []Command) {
	if b.cmds == nil {
		b.cmds = make(map[Key]Command)
	}
	for _, c := range cmds {
		b.cmds[c.Key()] = c
	}
	if clientSeq > b.maxSeq {
		b.maxSeq = clientSeq
	}
}

// MaxClientCmdSeq is the highest client sequence merged so far.
func (b *Bucket) MaxClientCmdSeq() uint32 { return b.maxSeq }

func (b *Bucket) Len() int { return len(b.cmds) }

// MaterializeSorted returns the surviving commands ordered by ascending
// (type, replace key), independent of arrival order.
func (b *Bucket) MaterializeSorted() []Command {
	if len(b.cmds) == 0 {
		return nil
	}
	keys := make([]Key, 0, len(b.cmds))
	for k := range b.cmds {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	out := make([]Command, 0, len(keys))
	for _, k := range keys {
		out = append(out, b.cmds[k])
	}
	return out
}

func (b *Bucket) Reset() {
	for k := range b.cmds {
		delete(b.cmds, k)
	}
	b.maxSeq = 0
}
