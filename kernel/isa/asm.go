package isa

import (
	"encoding/binary"
	"fmt"
)

type fixupKind uint8

const (
	fixBranch fixupKind = iota
	fixJal
	fixAddr
	fixWord
)

type fixup struct {
	kind  fixupKind
	index int
	label string
}

// Builder assembles a block of 32-bit instructions and data words at a fixed
// base address. Forward references to labels are patched by Assemble.
type Builder struct {
	base   uint32
	words  []uint32
	labels map[string]uint32
	fixups []fixup
	nextID int
	err    error
}

// Block is the output of a Builder: the words to be placed at Base and the
// address of every label defined while building it.
type Block struct {
	Base    uint32
	Words   []uint32
	Symbols map[string]uint32
}

// NewBuilder returns a Builder that places its first word at base.
func NewBuilder(base uint32) *Builder {
	return &Builder{base: base, labels: make(map[string]uint32)}
}

// PC returns the address of the next emitted word.
func (b *Builder) PC() uint32 {
	return b.base + uint32(len(b.words))*WordSize
}

// Label defines name at the current address.
func (b *Builder) Label(name string) {
	if _, exists := b.labels[name]; exists {
		b.fail("duplicate label %q", name)
		return
	}
	b.labels[name] = b.PC()
}

// NewLabel returns a label name that is unique within the builder.
func (b *Builder) NewLabel(prefix string) string {
	b.nextID++
	return fmt.Sprintf("%s.%d", prefix, b.nextID)
}

// Emit appends instruction words.
func (b *Builder) Emit(words ...uint32) {
	b.words = append(b.words, words...)
}

// Word appends a data word.
func (b *Builder) Word(v uint32) {
	b.words = append(b.words, v)
}

// Data appends p as little-endian words. The last word is zero padded.
func (b *Builder) Data(p []byte) {
	for i := 0; i < len(p); i += WordSize {
		var chunk [WordSize]byte
		copy(chunk[:], p[i:])
		b.words = append(b.words, binary.LittleEndian.Uint32(chunk[:]))
	}
}

// WordOf appends a data word holding the address of label.
func (b *Builder) WordOf(label string) {
	b.fixups = append(b.fixups, fixup{kind: fixWord, index: len(b.words), label: label})
	b.words = append(b.words, 0)
}

// Beq branches to label if rs1 == rs2.
func (b *Builder) Beq(rs1, rs2 Reg, label string) { b.branch(0, rs1, rs2, label) }

// Bne branches to label if rs1 != rs2.
func (b *Builder) Bne(rs1, rs2 Reg, label string) { b.branch(1, rs1, rs2, label) }

// Bgeu branches to label if rs1 >= rs2 (unsigned).
func (b *Builder) Bgeu(rs1, rs2 Reg, label string) { b.branch(7, rs1, rs2, label) }

func (b *Builder) branch(funct3 uint32, rs1, rs2 Reg, label string) {
	b.fixups = append(b.fixups, fixup{kind: fixBranch, index: len(b.words), label: label})
	b.words = append(b.words, BType(funct3, rs1, rs2, 0))
}

// J jumps to label without linking.
func (b *Builder) J(label string) { b.jal(Zero, label) }

// Call performs a direct call to label.
func (b *Builder) Call(label string) { b.jal(RA, label) }

func (b *Builder) jal(rd Reg, label string) {
	b.fixups = append(b.fixups, fixup{kind: fixJal, index: len(b.words), label: label})
	b.words = append(b.words, JType(rd, 0))
}

// Li loads the constant v into rd using a fixed two-word sequence.
func (b *Builder) Li(rd Reg, v uint32) {
	seq := Li(rd, v)
	b.Emit(seq[0], seq[1])
}

// La loads the address of label into rd. The label may be defined by this
// builder or supplied as an external symbol to Assemble.
func (b *Builder) La(rd Reg, label string) {
	b.fixups = append(b.fixups, fixup{kind: fixAddr, index: len(b.words), label: label})
	b.words = append(b.words, Lui(rd, 0), Addi(rd, rd, 0))
}

func (b *Builder) fail(format string, args ...interface{}) {
	if b.err == nil {
		b.err = fmt.Errorf("asm: "+format, args...)
	}
}

// Assemble resolves all label references. Labels not defined by the builder
// are looked up in externals.
func (b *Builder) Assemble(externals map[string]uint32) (*Block, error) {
	if b.err != nil {
		return nil, b.err
	}

	lookup := func(name string) (uint32, bool) {
		if addr, ok := b.labels[name]; ok {
			return addr, true
		}
		addr, ok := externals[name]
		return addr, ok
	}

	words := make([]uint32, len(b.words))
	copy(words, b.words)

	for _, f := range b.fixups {
		target, ok := lookup(f.label)
		if !ok {
			return nil, fmt.Errorf("asm: undefined label %q", f.label)
		}

		pc := b.base + uint32(f.index)*WordSize
		off := int32(target - pc)
		switch f.kind {
		case fixBranch:
			if off < -4096 || off > 4094 {
				return nil, fmt.Errorf("asm: branch to %q out of range (%d)", f.label, off)
			}
			in := Decode(words[f.index])
			words[f.index] = BType(in.Funct3, in.Rs1, in.Rs2, off)
		case fixJal:
			if off < -(1<<20) || off >= 1<<20 {
				return nil, fmt.Errorf("asm: jump to %q out of range (%d)", f.label, off)
			}
			words[f.index] = JType(Decode(words[f.index]).Rd, off)
		case fixAddr:
			rd := Decode(words[f.index]).Rd
			seq := Li(rd, target)
			words[f.index], words[f.index+1] = seq[0], seq[1]
		case fixWord:
			words[f.index] = target
		}
	}

	symbols := make(map[string]uint32, len(b.labels))
	for name, addr := range b.labels {
		symbols[name] = addr
	}

	return &Block{Base: b.base, Words: words, Symbols: symbols}, nil
}

// Size returns the size of the block in bytes.
func (blk *Block) Size() uint32 {
	return uint32(len(blk.Words)) * WordSize
}

// Bytes returns the little-endian memory image of the block.
func (blk *Block) Bytes() []byte {
	out := make([]byte, len(blk.Words)*WordSize)
	for i, w := range blk.Words {
		binary.LittleEndian.PutUint32(out[i*WordSize:], w)
	}
	return out
}
