package target

import (
	"fmt"
	"path/filepath"

	"github.com/sworg/swbuild/internal/filetable"
	"github.com/sworg/swbuild/internal/pkgid"
	"github.com/sworg/swbuild/internal/plan"
)

// Compiler abstracts the single external fact a Generic target needs about
// its toolchain: the program and flags to turn one source file into one
// object file. Concrete language support (REDESIGN FLAGS "per-language
// specifics become distinct concrete variants") plugs in here instead of
// subclassing Generic.
type Compiler interface {
	// CompileArgs returns the program and arguments to compile src into
	// obj given the target's include dirs.
	CompileArgs(src, obj string, includeDirs []string) (program string, args []string)
	// LinkArgs returns the program and arguments to link objs plus
	// linkLibs into the binary at out.
	LinkArgs(objs []string, linkLibs []string, out string) (program string, args []string)
	// ObjectExt is the file extension objects get before linking.
	ObjectExt() string
}

// Generic is the one concrete Target variant this package ships: it
// compiles Options.Sources to per-file objects, then links them into a
// single binary in BinDir. It embeds Base (which supplies Commands) and
// implements Init, Prepare and GetFiles, avoiding virtual methods deeper
// than one level.
type Generic struct {
	Base

	Name     string
	Compiler Compiler
	Files    *filetable.Table

	objects []string
}

// NewGeneric constructs a not-yet-prepared Generic target.
func NewGeneric(id pkgid.PackageId, name string, binDir string, opts Options, c Compiler, files *filetable.Table) *Generic {
	return &Generic{
		Base: Base{
			PackageId: id,
			Opts:      opts,
			BinDir:    binDir,
		},
		Name:     name,
		Compiler: c,
		Files:    files,
	}
}

// Init validates that a compiler was supplied; dry-run targets skip this
// since they never reach Prepare's command-building step.
func (g *Generic) Init() error {
	if g.DryRun {
		return nil
	}
	if g.Compiler == nil {
		return fmt.Errorf("target %s: no compiler configured", g.Name)
	}
	return nil
}

// Prepare builds this target's commands in a single pass: one compile
// command per source, then one link command. Real multipass targets
// (those needing generated-source discovery before they know their final
// source list) would instead return NeedAnotherPass until settled; Generic
// has a static source list so one pass always suffices.
func (g *Generic) Prepare() (PrepareOutcome, error) {
	if g.DryRun {
		return Done, nil
	}
	if g.PreparePass > 0 {
		return Done, nil
	}
	g.PreparePass++

	g.objects = g.objects[:0]
	for _, src := range g.Opts.Sources {
		obj := filepath.Join(g.BinDir, "obj", src+g.Compiler.ObjectExt())
		program, args := g.Compiler.CompileArgs(src, obj, g.Opts.IncludeDirs)
		g.AddCommand(&plan.Command{
			Name:    g.Name + ":compile:" + src,
			Program: program,
			Args:    args,
			Inputs:  []filetable.ID{g.Files.Intern(src)},
			Outputs: []filetable.ID{g.Files.Intern(obj)},
		})
		g.objects = append(g.objects, obj)
	}

	out := filepath.Join(g.BinDir, g.Name)
	program, args := g.Compiler.LinkArgs(g.objects, g.Opts.LinkLibs, out)
	inputs := make([]filetable.ID, len(g.objects))
	for i, o := range g.objects {
		inputs[i] = g.Files.Intern(o)
	}
	g.AddCommand(&plan.Command{
		Name:    g.Name + ":link",
		Program: program,
		Args:    args,
		Inputs:  inputs,
		Outputs: []filetable.ID{g.Files.Intern(out)},
	})

	return Done, nil
}

// GetFiles returns the output binary path once prepared.
func (g *Generic) GetFiles() []string {
	if g.PreparePass == 0 {
		return nil
	}
	return []string{filepath.Join(g.BinDir, g.Name)}
}

var _ Target = (*Generic)(nil)
