package mem

// Addresses of the default machine.
const (
	ROMBase       = 0x80000000
	TAData        = 0x80010000
	TAShadow      = 0x80018000
	TAGuard       = 0x8001a000
	AppCode       = 0x80020000
	AppROData     = 0x80040000
	AppData       = 0x80050000
	AppShadowLow  = 0x80060000
	AppShadow     = 0x80062000
	AppGuard      = 0x80064000
	UARTBase      = 0x10000000
	ExitBase      = 0x00100000
	shadowHalf    = 4 * Kb
	taStackSize   = 16 * Kb
	appStackSize  = 32 * Kb
	appStackTop   = AppData + 0x10000
	taStackTop    = TAData + 0x8000
	taShadowSoft  = TAShadow + uint32(shadowHalf)
	appShadowSoft = AppShadow + uint32(shadowHalf)
)

// DefaultRegions returns the region table of the default machine. Each
// domain's shadow region is followed by a locked no-access guard so that a
// software shadow stack overflow faults instead of spilling into the next
// region. The application's shadow region is also preceded by one, below its
// downward growing hardware shadow stack.
func DefaultRegions() []Region {
	return []Region{
		{Name: "ta-code", Base: ROMBase, Size: 64 * Kb, Owner: TrustAnchor, Perms: Perms{PermRX, PermRX}, Lock: true},
		{Name: "ta-data", Base: TAData, Size: 32 * Kb, Owner: TrustAnchor, Perms: Perms{PermRWX, PermNone}},
		{Name: "ta-shadow", Base: TAShadow, Size: 8 * Kb, Owner: TrustAnchor, Perms: Perms{PermRWX, PermNone}},
		{Name: "ta-guard", Base: TAGuard, Size: 4 * Kb, Owner: TrustAnchor, Perms: Perms{PermNone, PermNone}, Lock: true},
		{Name: "app-code", Base: AppCode, Size: 128 * Kb, Owner: Application, Perms: Perms{PermRWX, PermRX}},
		{Name: "app-rodata", Base: AppROData, Size: 32 * Kb, Owner: Application, Perms: Perms{PermRWX, PermR}},
		{Name: "app-data", Base: AppData, Size: 64 * Kb, Owner: Application, Perms: Perms{PermRWX, PermRW}},
		{Name: "app-shadow-low", Base: AppShadowLow, Size: 4 * Kb, Owner: Application, Perms: Perms{PermNone, PermNone}, Lock: true},
		{Name: "app-shadow", Base: AppShadow, Size: 8 * Kb, Owner: Application, Perms: Perms{PermRWX, PermRW}},
		{Name: "app-guard", Base: AppGuard, Size: 4 * Kb, Owner: Application, Perms: Perms{PermNone, PermNone}, Lock: true},
		{Name: "uart", Base: UARTBase, Size: 4 * Kb, Owner: Application, Perms: Perms{PermRWX, PermRW}},
		{Name: "exit", Base: ExitBase, Size: 4 * Kb, Owner: TrustAnchor, Perms: Perms{PermRWX, PermNone}},
	}
}

// DefaultDomains returns the execution spans of the default machine.
func DefaultDomains() [2]DomainLayout {
	return [2]DomainLayout{
		TrustAnchor: {
			Entry:           ROMBase,
			Stack:           Span{Base: taStackTop - uint32(taStackSize), Size: taStackSize},
			ShadowStack:     Span{Base: TAShadow, Size: shadowHalf},
			SoftShadowStack: Span{Base: taShadowSoft, Size: shadowHalf},
		},
		Application: {
			Entry:           AppCode,
			Stack:           Span{Base: appStackTop - uint32(appStackSize), Size: appStackSize},
			ShadowStack:     Span{Base: AppShadow, Size: shadowHalf},
			SoftShadowStack: Span{Base: appShadowSoft, Size: shadowHalf},
		},
	}
}

// DefaultLayout builds the layout of the default machine. The returned layout
// is not sealed so callers may still override it before validation.
func DefaultLayout() *Layout {
	l := NewLayout()
	for _, r := range DefaultRegions() {
		_ = l.AddRegion(r)
	}
	for d, dl := range DefaultDomains() {
		_ = l.SetDomain(Domain(d), dl)
	}
	_ = l.SetDevices(Devices{UART: UARTBase, Exit: ExitBase})
	return l
}
