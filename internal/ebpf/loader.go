package ebpf

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
)

// AttachKind selects how a ProgramSpec's entry point is hooked in.
type AttachKind int

const (
	AttachKprobe AttachKind = iota
	AttachKretprobe
	AttachTracepoint
	AttachRawTracepoint
)

// ProgramSpec describes one compiled layer probe: which object file holds
// it, which maps it shares with the rest of the tracer, and how its entry
// point attaches to the kernel.
type ProgramSpec struct {
	Name       string
	Category   string // application, os, filesystem, device
	ObjectFile string // path to compiled .o, relative to the probe object directory
	Section    string // ELF section / program name inside the .o
	MapNames   []string
	Attach     AttachKind
	AttachTo   string // kprobe/kretprobe function, or "group/name" for tracepoints
}

// LoadedProgram is a running probe: its BPF collection (including shared
// maps) plus the live kernel attachment.
type LoadedProgram struct {
	Spec       *ProgramSpec
	Collection *ebpf.Collection
	Link       link.Link
}

// Close detaches the probe and unloads its collection.
func (p *LoadedProgram) Close() error {
	var firstErr error
	if p.Link != nil {
		if err := p.Link.Close(); err != nil {
			firstErr = err
		}
	}
	if p.Collection != nil {
		p.Collection.Close()
	}
	return firstErr
}

// Loader loads and attaches the compiled layer probes.
type Loader struct {
	btfInfo   *BTFInfo
	objectDir string
	pinDir    string
	verbose   bool
}

// NewLoader creates a loader rooted at objectDir, the directory holding the
// compiled probe objects, one .o per layer group.
// pinDir, when non-empty, is a bpffs directory used to pin the shared
// request-context and bio-timing maps: those two tables are declared
// BPF_F_NO_PREALLOC/pinned-by-name in every layer's object file, so loading
// application.o, os.o and device.o independently still resolves to the same
// kernel map instead of three disjoint ones.
func NewLoader(objectDir, pinDir string, verbose bool) *Loader {
	return &Loader{
		btfInfo:   DetectBTF(),
		objectDir: objectDir,
		pinDir:    pinDir,
		verbose:   verbose,
	}
}

func (l *Loader) collectionOptions() *ebpf.CollectionOptions {
	if l.pinDir == "" {
		return nil
	}
	return &ebpf.CollectionOptions{
		Maps: ebpf.MapOptions{PinPath: l.pinDir},
	}
}

func (l *Loader) newCollection(collSpec *ebpf.CollectionSpec) (*ebpf.Collection, error) {
	if opts := l.collectionOptions(); opts != nil {
		return ebpf.NewCollectionWithOptions(collSpec, *opts)
	}
	return ebpf.NewCollection(collSpec)
}

// CanLoad reports whether native CO-RE probe loading is possible at all.
func (l *Loader) CanLoad() bool {
	return l.btfInfo.Ready()
}

// LoadError wraps a probe load/attach failure with the program name that
// failed, so a runner can report which layer is missing rather than aborting
// blind.
type LoadError struct {
	Program string
	Err     error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("probe %q: %v", e.Program, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// TryLoad loads spec's object file, resolves its program by section name,
// and attaches it per spec.Attach. The returned LoadedProgram owns both the
// collection and the link; closing it tears down the probe cleanly.
func (l *Loader) TryLoad(ctx context.Context, spec *ProgramSpec) (*LoadedProgram, error) {
	if !l.CanLoad() {
		return nil, &LoadError{
			Program: spec.Name,
			Err:     fmt.Errorf("BTF/CO-RE not available (kernel %s)", l.btfInfo.KernelVersion),
		}
	}

	path := spec.ObjectFile
	if l.objectDir != "" && !strings.HasPrefix(path, "/") {
		path = l.objectDir + "/" + path
	}

	collSpec, err := ebpf.LoadCollectionSpec(path)
	if err != nil {
		return nil, &LoadError{Program: spec.Name, Err: fmt.Errorf("load spec: %w", err)}
	}

	coll, err := l.newCollection(collSpec)
	if err != nil {
		return nil, &LoadError{Program: spec.Name, Err: fmt.Errorf("load collection: %w", err)}
	}

	prog := coll.Programs[spec.Section]
	if prog == nil {
		coll.Close()
		return nil, &LoadError{Program: spec.Name, Err: fmt.Errorf("section %q not found in collection", spec.Section)}
	}

	attachment, err := attach(prog, spec)
	if err != nil {
		coll.Close()
		return nil, &LoadError{Program: spec.Name, Err: fmt.Errorf("attach %s: %w", spec.AttachTo, err)}
	}

	if l.verbose {
		log.Printf("[ebpf] loaded %s (%s)", spec.Name, spec.AttachTo)
	}

	return &LoadedProgram{Spec: spec, Collection: coll, Link: attachment}, nil
}

func attach(prog *ebpf.Program, spec *ProgramSpec) (link.Link, error) {
	switch spec.Attach {
	case AttachKprobe:
		return link.Kprobe(spec.AttachTo, prog, nil)
	case AttachKretprobe:
		return link.Kretprobe(spec.AttachTo, prog, nil)
	case AttachTracepoint:
		group, name, ok := strings.Cut(spec.AttachTo, "/")
		if !ok {
			return nil, fmt.Errorf("tracepoint AttachTo %q must be \"group/name\"", spec.AttachTo)
		}
		return link.Tracepoint(group, name, prog, nil)
	case AttachRawTracepoint:
		return link.AttachRawTracepoint(link.RawTracepointOptions{
			Name:    spec.AttachTo,
			Program: prog,
		})
	default:
		return nil, fmt.Errorf("unknown attach kind %d", spec.Attach)
	}
}

// LoadedGroup is a set of programs attached from a single compiled object
// file, sharing one Collection (and therefore sharing its maps — the
// request-context and bio-timing tables some layers need to cooperate
// through).
type LoadedGroup struct {
	Collection *ebpf.Collection
	Links      []link.Link
}

// Close detaches every program in the group and unloads the collection.
func (g *LoadedGroup) Close() error {
	var firstErr error
	for _, l := range g.Links {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if g.Collection != nil {
		g.Collection.Close()
	}
	return firstErr
}

// LoadGroup loads objectFile once and attaches every spec in specs against
// the resulting collection, so they share its maps instead of each getting
// an independent copy.
func (l *Loader) LoadGroup(ctx context.Context, objectFile string, specs []ProgramSpec) (*LoadedGroup, error) {
	if !l.CanLoad() {
		return nil, &LoadError{
			Program: objectFile,
			Err:     fmt.Errorf("BTF/CO-RE not available (kernel %s)", l.btfInfo.KernelVersion),
		}
	}

	path := objectFile
	if l.objectDir != "" && !strings.HasPrefix(path, "/") {
		path = l.objectDir + "/" + path
	}

	collSpec, err := ebpf.LoadCollectionSpec(path)
	if err != nil {
		return nil, &LoadError{Program: objectFile, Err: fmt.Errorf("load spec: %w", err)}
	}

	coll, err := l.newCollection(collSpec)
	if err != nil {
		return nil, &LoadError{Program: objectFile, Err: fmt.Errorf("load collection: %w", err)}
	}

	group := &LoadedGroup{Collection: coll}
	for i := range specs {
		spec := &specs[i]
		prog := coll.Programs[spec.Section]
		if prog == nil {
			group.Close()
			return nil, &LoadError{Program: spec.Name, Err: fmt.Errorf("section %q not found in collection", spec.Section)}
		}
		attachment, err := attach(prog, spec)
		if err != nil {
			group.Close()
			return nil, &LoadError{Program: spec.Name, Err: fmt.Errorf("attach %s: %w", spec.AttachTo, err)}
		}
		group.Links = append(group.Links, attachment)
		if l.verbose {
			log.Printf("[ebpf] loaded %s (%s)", spec.Name, spec.AttachTo)
		}
	}

	return group, nil
}

// NativePrograms is the full set of layer probes the tracer attaches, one
// entry per observation point named across the application, OS, filesystem
// and device layers, plus the task-exit cleanup hook the request-context
// table's GC relies on.
var NativePrograms = []ProgramSpec{
	{
		Name:       "app_read_enter",
		Category:   "application",
		ObjectFile: "application.o",
		Section:    "kprobe/ksys_read",
		MapNames:   []string{"events", "request_ctx"},
		Attach:     AttachKprobe,
		AttachTo:   "ksys_read",
	},
	{
		Name:       "app_write_enter",
		Category:   "application",
		ObjectFile: "application.o",
		Section:    "kprobe/ksys_write",
		MapNames:   []string{"events", "request_ctx"},
		Attach:     AttachKprobe,
		AttachTo:   "ksys_write",
	},
	{
		Name:       "app_openat_enter",
		Category:   "application",
		ObjectFile: "application.o",
		Section:    "kprobe/do_sys_openat2",
		MapNames:   []string{"events"},
		Attach:     AttachKprobe,
		AttachTo:   "do_sys_openat2",
	},
	{
		Name:       "os_vfs_read_entry",
		Category:   "os",
		ObjectFile: "os.o",
		Section:    "kprobe/vfs_read",
		MapNames:   []string{"events", "request_ctx"},
		Attach:     AttachKprobe,
		AttachTo:   "vfs_read",
	},
	{
		Name:       "os_vfs_write_entry",
		Category:   "os",
		ObjectFile: "os.o",
		Section:    "kprobe/vfs_write",
		MapNames:   []string{"events", "request_ctx"},
		Attach:     AttachKprobe,
		AttachTo:   "vfs_write",
	},
	{
		Name:       "fs_fsync_range_entry",
		Category:   "filesystem",
		ObjectFile: "filesystem.o",
		Section:    "kprobe/vfs_fsync_range",
		MapNames:   []string{"events"},
		Attach:     AttachKprobe,
		AttachTo:   "vfs_fsync_range",
	},
	{
		Name:       "dev_submit_bio",
		Category:   "device",
		ObjectFile: "device.o",
		Section:    "kprobe/submit_bio",
		MapNames:   []string{"events", "bio_timing"},
		Attach:     AttachKprobe,
		AttachTo:   "submit_bio",
	},
	{
		Name:       "dev_bio_endio",
		Category:   "device",
		ObjectFile: "device.o",
		Section:    "kprobe/bio_endio",
		MapNames:   []string{"events", "bio_timing"},
		Attach:     AttachKprobe,
		AttachTo:   "bio_endio",
	},
	{
		Name:       "task_exit_cleanup",
		Category:   "lifecycle",
		ObjectFile: "lifecycle.o",
		Section:    "tracepoint/sched/sched_process_exit",
		MapNames:   []string{"request_ctx"},
		Attach:     AttachTracepoint,
		AttachTo:   "sched/sched_process_exit",
	},
}

// ProgramsByCategory filters NativePrograms down to a single layer category,
// letting a runner attach just the layers a configuration enables.
func ProgramsByCategory(category string) []ProgramSpec {
	var out []ProgramSpec
	for _, p := range NativePrograms {
		if p.Category == category {
			out = append(out, p)
		}
	}
	return out
}
