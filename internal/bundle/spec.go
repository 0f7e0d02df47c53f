// Package bundle parses an OCI bundle's config.json into the reduced
// internal representation the rest of the core consumes (spec §4.4).
package bundle

// Process describes the bundle's entry process (reduced from
// specs.Process).
type Process struct {
	Args     []string
	Env      []string
	Cwd      string
	UID      uint32
	GID      uint32
	Terminal bool
}

// Root describes the bundle's rootfs (reduced from specs.Root).
type Root struct {
	Path     string
	ReadOnly bool
}

// Mount is one bundle mount entry (reduced from specs.Mount).
type Mount struct {
	Destination string
	Source      string
	Type        string
	Options     []string
}

// Recognized mount types, per spec §4.4.
var RecognizedMountTypes = map[string]bool{
	"bind": true, "tmpfs": true, "proc": true, "sysfs": true,
	"mqueue": true, "devpts": true, "cgroup": true,
}

// CPUResources is the reduced linux.resources.cpu block.
type CPUResources struct {
	Shares *uint64
	Quota  *int64
	Period *uint64
}

// MemoryResources is the reduced linux.resources.memory block.
type MemoryResources struct {
	LimitBytes *int64
}

// Resources is the reduced linux.resources block.
type Resources struct {
	Memory MemoryResources
	CPU    CPUResources
}

// Namespace is one linux.namespaces[] entry.
type Namespace struct {
	Type string
	Path string // non-empty means "shared" (spec §4.6.1 NAMESPACE_SHARED_UNSUPPORTED)
}

// Spec is the bundle's config.json reduced to what the core uses
// (spec §3 "Bundle Spec (internal)").
type Spec struct {
	Hostname    string
	Process     Process
	Root        Root
	Mounts      []Mount
	Resources   Resources
	Namespaces  []Namespace
	Annotations map[string]string
}

// HasUserNamespace reports whether the bundle requests a user namespace,
// which triggers --unprivileged 1 and nesting/keyctl features in the
// LXC driver (spec §4.6.1).
func (s Spec) HasUserNamespace() bool {
	for _, ns := range s.Namespaces {
		if ns.Type == "user" {
			return true
		}
	}
	return false
}
