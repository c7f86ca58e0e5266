package gosasshost

// Import is the result of a successful ImportResolver.Load.
type Import struct {
	Content      string
	SourceSyntax SourceSyntax
	SourceMapURL string
}

// ImportResolver allows custom import resolution for @use/@import.
//
// CanonicalizeURL returns a canonical version of url if this resolver
// can resolve it, an empty string if it cannot (meaning: not handled,
// let another importer or the compiler itself try), or an error.
// Importers must ensure the same canonical URL always refers to the same
// stylesheet.
//
// Load loads the canonicalized URL's content.
type ImportResolver interface {
	CanonicalizeURL(url string) (string, error)
	Load(canonicalizedURL string) (Import, error)
}

// firstImporterID is the base of the importer id space (spec §4.6):
// importer ids occupy [firstImporterID, firstImporterID+N).
const firstImporterID = 4000

// importerSlot is one entry of the per-compile importer list: either a
// filesystem load-path or a custom resolver callback (spec §3
// ImportResolver).
type importerSlot struct {
	loadPath string // non-empty for a load-path slot
	resolver ImportResolver
}

func (s importerSlot) isLoadPath() bool { return s.resolver == nil }

// buildImporterSlots orders custom resolvers ahead of load-paths,
// matching the teacher's sassImporters construction order in
// options.go.
func buildImporterSlots(resolvers []ImportResolver, includePaths []string) []importerSlot {
	var slots []importerSlot
	for _, r := range resolvers {
		slots = append(slots, importerSlot{resolver: r})
	}
	for _, p := range includePaths {
		slots = append(slots, importerSlot{loadPath: p})
	}
	return slots
}

// resolveImporterSlot maps a wire importer id to its slot, per the
// [4000, 4000+N) range check of spec §4.6. Out-of-range is a protocol
// error.
func resolveImporterSlot(slots []importerSlot, importerID uint32) (importerSlot, error) {
	if importerID < firstImporterID || importerID >= firstImporterID+uint32(len(slots)) {
		return importerSlot{}, newProtocolError("importer id out of range")
	}
	return slots[importerID-firstImporterID], nil
}
