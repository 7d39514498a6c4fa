package mem

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNAPOTEncoding(t *testing.T) {
	specs := []struct {
		base    uint32
		size    Size
		expAddr uint32
	}{
		{0x80000000, 64 * Kb, 0x20000000 | 0x1fff},
		{0x80010000, 32 * Kb, 0x20004000 | 0x0fff},
		{0x10000000, 4 * Kb, 0x04000000 | 0x01ff},
		{0x00000008, 8, 0x00000002},
	}

	for specIndex, spec := range specs {
		got := NAPOTAddr(spec.base, spec.size)
		if got != spec.expAddr {
			t.Errorf("[spec %d] expected pmpaddr 0x%08x; got 0x%08x", specIndex, spec.expAddr, got)
		}

		base, size := NAPOTRange(got)
		if base != spec.base || size != spec.size {
			t.Errorf("[spec %d] expected decode to yield (0x%08x, %s); got (0x%08x, %s)",
				specIndex, spec.base, spec.size, base, size)
		}
	}
}

func TestRegionPmpCfg(t *testing.T) {
	regions := DefaultRegions()
	exp := []uint8{
		PmpLock | PmpNAPOT | PmpR | PmpX,
		PmpNAPOT,
		PmpNAPOT,
		PmpLock | PmpNAPOT,
		PmpNAPOT | PmpR | PmpX,
		PmpNAPOT | PmpR,
		PmpNAPOT | PmpR | PmpW,
		PmpLock | PmpNAPOT,
		PmpNAPOT | PmpR | PmpW,
		PmpLock | PmpNAPOT,
		PmpNAPOT | PmpR | PmpW,
		PmpNAPOT,
	}

	got := make([]uint8, len(regions))
	for i, r := range regions {
		got[i] = r.PmpCfg()
	}

	if diff := cmp.Diff(exp, got); diff != "" {
		t.Fatalf("pmpcfg mismatch (-want +got):\n%s", diff)
	}
}

func TestDefaultLayoutValidates(t *testing.T) {
	l := DefaultLayout()
	if err := l.Validate(); err != nil {
		t.Fatalf("default layout rejected: %v", err)
	}

	r, ok := l.Lookup(AppData + 0x100)
	if !ok || r.Name != "app-data" {
		t.Fatalf("expected lookup to resolve app-data; got %+v, %t", r, ok)
	}

	if _, ok := l.Lookup(0x90000000); ok {
		t.Fatal("expected lookup of an unmapped address to fail")
	}
}

func TestValidateRejects(t *testing.T) {
	specs := []struct {
		descr  string
		mutate func([]Region) []Region
		expMsg string
	}{
		{
			"overlapping regions",
			func(r []Region) []Region {
				return append(r, Region{Name: "evil", Base: AppData + 0x8000, Size: 32 * Kb, Owner: Application, Perms: Perms{PermRWX, PermRW}})
			},
			"overlaps",
		},
		{
			"size not a power of two",
			func(r []Region) []Region {
				r[1].Size = 24 * Kb
				return r
			},
			"power of two",
		},
		{
			"size below granule",
			func(r []Region) []Region {
				r[1].Size = 4
				return r
			},
			"power of two",
		},
		{
			"misaligned base",
			func(r []Region) []Region {
				r[4].Base = AppCode + 0x1000
				return r
			},
			"not aligned",
		},
		{
			"locked region with split permissions",
			func(r []Region) []Region {
				r[0].Perms.User = PermNone
				return r
			},
			"locked",
		},
		{
			"unlocked region restricting machine",
			func(r []Region) []Region {
				r[1].Perms.Machine = PermRW
				return r
			},
			"unlocked",
		},
		{
			"duplicate name",
			func(r []Region) []Region {
				return append(r, Region{Name: "uart", Base: 0x20000000, Size: 4 * Kb, Perms: Perms{PermRWX, PermNone}})
			},
			"duplicate",
		},
		{
			"too many regions",
			func(r []Region) []Region {
				for i := 0; len(r) <= MaxRegions; i++ {
					r = append(r, Region{Name: "pad" + string(rune('a'+i)), Base: 0x20000000 + uint32(i)*0x1000, Size: 4 * Kb, Perms: Perms{PermRWX, PermNone}})
				}
				return r
			},
			"more regions",
		},
		{
			"span outside owner region",
			func(r []Region) []Region {
				// Hand the application's data region to the trust anchor.
				r[6].Owner = TrustAnchor
				return r
			},
			"stack span",
		},
	}

	for _, spec := range specs {
		t.Run(spec.descr, func(t *testing.T) {
			l := NewLayout()
			for _, r := range spec.mutate(DefaultRegions()) {
				if err := l.AddRegion(r); err != nil {
					t.Fatal(err)
				}
			}
			for d, dl := range DefaultDomains() {
				_ = l.SetDomain(Domain(d), dl)
			}
			_ = l.SetDevices(Devices{UART: UARTBase, Exit: ExitBase})

			err := l.Validate()
			if err == nil {
				t.Fatal("expected validation to fail")
			}
			if !strings.Contains(err.Message, spec.expMsg) {
				t.Fatalf("expected error to mention %q; got %q", spec.expMsg, err.Message)
			}
		})
	}
}

func TestSealedLayoutIsImmutable(t *testing.T) {
	l := DefaultLayout()
	if err := l.Seal(); err != nil {
		t.Fatal(err)
	}

	if err := l.AddRegion(Region{Name: "late", Base: 0x20000000, Size: 4 * Kb}); err != errLayoutSealed {
		t.Errorf("expected AddRegion to fail with errLayoutSealed; got %v", err)
	}
	if err := l.SetDomain(Application, DomainLayout{}); err != errLayoutSealed {
		t.Errorf("expected SetDomain to fail with errLayoutSealed; got %v", err)
	}
	if err := l.SetDevices(Devices{}); err != errLayoutSealed {
		t.Errorf("expected SetDevices to fail with errLayoutSealed; got %v", err)
	}

	regions := l.Regions()
	regions[0].Perms.User = PermRWX
	if r, _ := l.Region("ta-code"); r.Perms.User != PermRX {
		t.Error("mutating the returned region table changed the layout")
	}
}

func TestSealRejectsInvalidLayout(t *testing.T) {
	l := NewLayout()
	if err := l.Seal(); err != errNoRegions {
		t.Fatalf("expected errNoRegions; got %v", err)
	}
	if l.Sealed() {
		t.Fatal("invalid layout must not be sealed")
	}
}

func TestCheckRange(t *testing.T) {
	l := DefaultLayout()

	specs := []struct {
		addr, length uint32
		need         Perm
		exp          bool
	}{
		{AppData, 16, PermR, true},
		{AppData + 0xfff0, 16, PermRW, true},
		{AppData + 0xfff0, 17, PermR, false},
		{AppROData, 64, PermR, true},
		{AppROData, 64, PermW, false},
		{TAData, 4, PermR, false},
		{0x90000000, 1, PermR, false},
		{AppData, 0, PermR, true},
		{0xffffffff, 2, PermR, false},
	}

	for specIndex, spec := range specs {
		if got := l.CheckRange(spec.addr, spec.length, Application, spec.need); got != spec.exp {
			t.Errorf("[spec %d] expected CheckRange(0x%08x, %d, %s) to return %t", specIndex, spec.addr, spec.length, spec.need, spec.exp)
		}
	}
}
