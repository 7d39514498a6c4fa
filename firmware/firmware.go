// Package firmware assembles the two images the machine boots: the trust
// anchor ROM, which runs the boot protocol in machine mode and hands over to
// the application, and the application itself, a self-test of the
// control-flow integrity protocol that runs in user mode.
package firmware

import (
	"fmt"

	"rotos/kernel/cfi"
	"rotos/kernel/isa"
	"rotos/kernel/mem"
)

// Canonical signatures of the functions that are called indirectly.
const (
	SigUnary      = "func(uint32) uint32"
	SigBinary     = "func(uint32, uint32) uint32"
	SigCallAndInc = "func(func(uint32) uint32, uint32) uint32"
)

// Values passed to the sealing stub during boot.
const (
	SealSecret = 0xc0ffee00
	SealKey    = 0x5ea1ed42
)

// HijackedCode is the halt code reported when a forged return address is
// followed.
const HijackedCode = 2

// SealLabel is the landing pad label of the sealing stub and of square.
const SealLabel = 7

// Options select optional behavior of the application image.
type Options struct {
	// Echo makes the application echo console input after the self-test
	// until it reads 'q'.
	Echo bool `toml:"echo"`

	// CorruptSoftShadow adds a call to a function that overwrites its own
	// software shadow stack entry.
	CorruptSoftShadow bool `toml:"corrupt_soft_shadow"`

	// OverflowShadow adds a call to a function that recurses until one of
	// its shadow stacks runs into a guard region.
	OverflowShadow bool `toml:"overflow_shadow"`

	// ForgeReturn adds a call to a function that rewrites both its spilled
	// return address and its software shadow stack entry. Only the hardware
	// shadow stack can catch it; without one the application halts with
	// HijackedCode.
	ForgeReturn bool `toml:"forge_return"`

	// BadLandingPad adds an indirect call to square with the wrong label.
	BadLandingPad bool `toml:"bad_landing_pad"`

	// BadTypeHash adds an indirect call to add42 expecting the wrong type.
	BadTypeHash bool `toml:"bad_type_hash"`
}

// Image holds the assembled blocks and the addresses the kernel needs to
// boot them.
type Image struct {
	ROM       *isa.Block
	AppCode   *isa.Block
	AppROData *isa.Block

	// Natives lists the ROM addresses bound to kernel routines.
	Natives Natives

	// Table is the address of the application's exported function table.
	Table uint32

	// Results is the address of the self-test result words.
	Results uint32
}

// Blocks returns the blocks of the image.
func (img *Image) Blocks() []*isa.Block {
	return []*isa.Block{img.ROM, img.AppCode, img.AppROData}
}

// Writer is implemented by the machine bus.
type Writer interface {
	WriteBytes(addr uint32, data []byte) bool
}

// Load copies every block of the image to m.
func (img *Image) Load(m Writer) error {
	for _, blk := range img.Blocks() {
		if !m.WriteBytes(blk.Base, blk.Bytes()) {
			return fmt.Errorf("firmware: cannot load block at 0x%x (%d bytes)", blk.Base, blk.Size())
		}
	}
	return nil
}

// RegisterFaultSites records the fault stubs of every block with the cfi
// package.
func (img *Image) RegisterFaultSites() {
	for _, blk := range img.Blocks() {
		cfi.RegisterFaultSites(blk)
	}
}

// Build assembles the images for layout.
func Build(layout *mem.Layout, opts Options) (*Image, error) {
	code, ok := layout.Lookup(layout.Domain(mem.Application).Entry)
	if !ok {
		return nil, fmt.Errorf("firmware: no region holds the application entry")
	}
	rodata, ok := layout.Region("app-rodata")
	if !ok {
		return nil, fmt.Errorf("firmware: layout has no app-rodata region")
	}
	data, ok := layout.Region("app-data")
	if !ok {
		return nil, fmt.Errorf("firmware: layout has no app-data region")
	}

	app, err := buildApp(layout, rodata.Base, data.Base, opts)
	if err != nil {
		return nil, err
	}
	rom, natives, err := buildROM(layout, code, app.table)
	if err != nil {
		return nil, err
	}

	return &Image{
		ROM:       rom,
		AppCode:   app.code,
		AppROData: app.rodata,
		Natives:   natives,
		Table:     app.table,
		Results:   data.Base,
	}, nil
}
