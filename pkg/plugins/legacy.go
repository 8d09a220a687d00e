package plugins

import "fmt"

// Legacy ABI entry points. Libraries from before the function-table ABI
// export a single descriptor accessor instead of individual symbols.
const (
	symLegacyDescriptor   = "GetLegacyPlugin"
	symLegacyDescriptorV2 = "GetLegacyPluginV2"
)

// LegacyMagic must match a legacy descriptor's Magic field; it gates
// out libraries built against an incompatible descriptor layout.
const LegacyMagic uint32 = 0x7462504c

// legacyRetractedName marks a legacy plugin withdrawn by its author. A
// retracted descriptor is rejected during resolution.
const legacyRetractedName = "Retracted"

// legacyAPIVersion is reported for legacy plugins, which predate API
// versioning.
var legacyAPIVersion = Version{Major: 0, Minor: 0, Patch: 0}

// LegacyDescriptor is the struct-based contract of the legacy plugin
// ABI. TryLock/Fetch/Unlock correspond to the modern positional triad:
// TryLock attaches to one of the offered processes, Fetch samples
// positional data while attached and Unlock detaches again.
type LegacyDescriptor struct {
	Magic       uint32
	Shortname   string
	Description string

	TryLock func(programs []ProgramEntry) bool
	Unlock  func()
	Fetch   func(out *PositionalFrame) bool
}

// LegacyDescriptorV2 extends the legacy ABI with a plugin version. Its
// presence is optional.
type LegacyDescriptorV2 struct {
	Magic   uint32
	Version Version
}

// resolveLegacyFunctionTable maps a legacy descriptor onto the modern
// function table so the rest of the system never special-cases the ABI
// generation. The returned table has no event or audio callbacks; the
// legacy ABI never had them.
func resolveLegacyFunctionTable(resolver SymbolResolver) (FunctionTable, error) {
	descriptorFunc := lookupAs[func() *LegacyDescriptor](resolver, symLegacyDescriptor)
	if descriptorFunc == nil {
		return FunctionTable{}, fmt.Errorf("missing legacy entry point %s", symLegacyDescriptor)
	}

	descriptor := descriptorFunc()
	if descriptor == nil {
		return FunctionTable{}, fmt.Errorf("%s returned no descriptor", symLegacyDescriptor)
	}
	if descriptor.Magic != LegacyMagic {
		return FunctionTable{}, fmt.Errorf("legacy descriptor magic mismatch: got %#x, want %#x", descriptor.Magic, LegacyMagic)
	}
	if descriptor.Shortname == legacyRetractedName {
		return FunctionTable{}, fmt.Errorf("legacy plugin is retracted")
	}

	version := UnknownVersion
	if v2Func := lookupAs[func() *LegacyDescriptorV2](resolver, symLegacyDescriptorV2); v2Func != nil {
		if v2 := v2Func(); v2 != nil && v2.Magic == LegacyMagic {
			version = v2.Version
		}
	}

	table := FunctionTable{
		// The legacy ABI has no init/shutdown entry points; locking the
		// positional source is its whole lifecycle. The mandatory slots
		// are filled with neutral implementations so the table passes
		// the modern contract.
		Init:                 func() ErrorCode { return ErrorCodeOK },
		Shutdown:             func() {},
		GetName:              func() string { return descriptor.Shortname },
		GetAPIVersion:        func() Version { return legacyAPIVersion },
		RegisterAPIFunctions: func(*HostAPI) {},

		GetDescription: func() string { return descriptor.Description },
		GetFeatures:    func() Feature { return FeaturePositional },
	}

	if version != UnknownVersion {
		table.GetVersion = func() Version { return version }
	}

	if descriptor.TryLock != nil && descriptor.Fetch != nil && descriptor.Unlock != nil {
		table.InitPositionalData = func(programs []ProgramEntry) PositionalResult {
			if descriptor.TryLock(programs) {
				return PositionalOK
			}
			// A legacy plugin cannot distinguish permanent failure; a
			// refused lock only means no supported game is running now.
			return PositionalTempError
		}
		table.FetchPositionalData = descriptor.Fetch
		table.ShutdownPositionalData = descriptor.Unlock
	}

	return table, nil
}
