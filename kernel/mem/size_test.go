package mem

import "testing"

func TestSizeUnmarshalText(t *testing.T) {
	specs := []struct {
		input  string
		exp    Size
		expErr bool
	}{
		{"64K", 64 * Kb, false},
		{"4k", 4 * Kb, false},
		{"1M", Mb, false},
		{"4096", 4 * Kb, false},
		{"0x1000", 4 * Kb, false},
		{"64KiB", 64 * Kb, false},
		{"2mb", 2 * Mb, false},
		{" 8K ", 8 * Kb, false},
		{"4G", 4 * Gb, false},
		{"8G", 0, true},
		{"0xfffffffff", 0, true},
		{"-4K", 0, true},
		{"", 0, true},
		{"K", 0, true},
		{"12Q", 0, true},
	}

	for specIndex, spec := range specs {
		var s Size
		err := s.UnmarshalText([]byte(spec.input))
		if spec.expErr {
			if err == nil {
				t.Errorf("[spec %d] expected an error for %q", specIndex, spec.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("[spec %d] unexpected error: %v", specIndex, err)
			continue
		}
		if s != spec.exp {
			t.Errorf("[spec %d] expected %q to parse as %d; got %d", specIndex, spec.input, spec.exp, s)
		}
	}
}

func TestSizeString(t *testing.T) {
	specs := []struct {
		s   Size
		exp string
	}{
		{0, "0"},
		{12, "12"},
		{64 * Kb, "64K"},
		{2 * Mb, "2M"},
		{Gb, "1G"},
		{Kb + 1, "1025"},
	}

	for _, spec := range specs {
		if got := spec.s.String(); got != spec.exp {
			t.Errorf("expected %d to format as %q; got %q", uint64(spec.s), spec.exp, got)
		}
	}
}

func TestPermText(t *testing.T) {
	for _, p := range []Perm{PermNone, PermR, PermRW, PermRX, PermRWX} {
		text, _ := p.MarshalText()
		var got Perm
		if err := got.UnmarshalText(text); err != nil {
			t.Fatal(err)
		}
		if got != p {
			t.Errorf("expected %q to parse back as %s; got %s", text, p, got)
		}
	}

	var p Perm
	if err := p.UnmarshalText([]byte("RWZ")); err == nil {
		t.Error("expected an error for an unknown permission letter")
	}
}
