// Package sim assembles a complete machine (hart, bus, devices and firmware)
// from a configuration, boots it and runs the end-to-end scenarios.
package sim

import (
	"fmt"
	"io"
	"strings"

	"github.com/BurntSushi/toml"

	"rotos/firmware"
	"rotos/kernel/cpu"
	"rotos/kernel/mem"
)

// DefaultBudget is the instruction budget of a boot.
const DefaultBudget = 5000000

// Config describes a machine.
type Config struct {
	// Caps is the extension set of the hart.
	Caps cpu.Caps `toml:"caps"`

	// Budget limits the number of instructions a boot may retire. Zero
	// removes the limit.
	Budget uint64 `toml:"budget"`

	// Firmware selects optional firmware behavior.
	Firmware firmware.Options `toml:"firmware"`

	// Regions replaces the default region table when not empty.
	Regions []mem.Region `toml:"region"`
}

// DefaultConfig returns a hart with every extension and the default layout.
func DefaultConfig() Config {
	return Config{
		Caps:   cpu.FullCaps(),
		Budget: DefaultBudget,
	}
}

// DecodeConfig reads a TOML configuration from r. Keys missing from r keep
// their defaults; unknown keys are an error.
func DecodeConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	md, err := toml.NewDecoder(r).Decode(&cfg)
	if err != nil {
		return Config{}, fmt.Errorf("sim: decoding config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("sim: unknown config keys: %s", strings.Join(keys, ", "))
	}
	return cfg, nil
}

// LoadConfig reads the TOML configuration at path.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("sim: loading %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return Config{}, fmt.Errorf("sim: %s: unknown key %s", path, undecoded[0])
	}
	return cfg, nil
}

// Layout builds and validates the layout described by c. The layout is not
// sealed; the kernel seals it once the region table is installed.
func (c Config) Layout() (*mem.Layout, error) {
	l := mem.DefaultLayout()
	if len(c.Regions) != 0 {
		l = mem.NewLayout()
		for _, r := range c.Regions {
			if err := l.AddRegion(r); err != nil {
				return nil, fmt.Errorf("sim: region %s: %w", r.Name, err)
			}
		}
		for d, dl := range mem.DefaultDomains() {
			if err := l.SetDomain(mem.Domain(d), dl); err != nil {
				return nil, fmt.Errorf("sim: %w", err)
			}
		}
		if err := l.SetDevices(mem.Devices{UART: mem.UARTBase, Exit: mem.ExitBase}); err != nil {
			return nil, fmt.Errorf("sim: %w", err)
		}
	}

	if err := l.Validate(); err != nil {
		return nil, fmt.Errorf("sim: invalid layout: %w", err)
	}
	return l, nil
}

// Encode writes c as TOML to w.
func (c Config) Encode(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}
