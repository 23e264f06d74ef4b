package target

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sworg/swbuild/internal/filetable"
	"github.com/sworg/swbuild/internal/pkgid"
	"github.com/sworg/swbuild/internal/pkgpath"
	"github.com/sworg/swbuild/internal/settings"
	"github.com/sworg/swbuild/internal/version"
)

type fakeCompiler struct{}

func (fakeCompiler) CompileArgs(src, obj string, includeDirs []string) (string, []string) {
	args := []string{"-c", src, "-o", obj}
	for _, d := range includeDirs {
		args = append(args, "-I"+d)
	}
	return "cc", args
}

func (fakeCompiler) LinkArgs(objs []string, linkLibs []string, out string) (string, []string) {
	args := append([]string{"-o", out}, objs...)
	for _, l := range linkLibs {
		args = append(args, "-l"+l)
	}
	return "cc", args
}

func (fakeCompiler) ObjectExt() string { return ".o" }

func testId(t *testing.T, s *settings.Node) pkgid.PackageId {
	t.Helper()
	p, ok := pkgpath.New("org.sw.demo.app")
	require.True(t, ok)
	v, err := version.NewRelease("1.0.0")
	require.NoError(t, err)
	return pkgid.PackageId{Name: pkgid.PackageName{Path: p, Version: v}, Settings: s}
}

func TestGenericPrepareProducesCompileAndLinkCommands(t *testing.T) {
	id := testId(t, settings.New())
	files := filetable.New()
	opts := Options{
		Sources:     []string{"a.c", "b.c"},
		IncludeDirs: []string{"include"},
		LinkLibs:    []string{"m"},
	}
	g := NewGeneric(id, "app", "/out/bin", opts, fakeCompiler{}, files)

	require.NoError(t, g.Init())
	outcome, err := g.Prepare()
	require.NoError(t, err)
	require.Equal(t, Done, outcome)

	cmds := g.Commands()
	require.Len(t, cmds, 3)
	require.Equal(t, "app:compile:a.c", cmds[0].Name)
	require.Equal(t, "app:compile:b.c", cmds[1].Name)
	require.Equal(t, "app:link", cmds[2].Name)
	require.Equal(t, []string{"/out/bin/app"}, g.GetFiles())

	outcome2, err := g.Prepare()
	require.NoError(t, err)
	require.Equal(t, Done, outcome2)
	require.Len(t, g.Commands(), 3, "a second Prepare pass must not duplicate commands")
}

func TestGenericDryRunSkipsCommandBuilding(t *testing.T) {
	id := testId(t, settings.New())
	g := NewGeneric(id, "app", "/out/bin", Options{Sources: []string{"a.c"}}, nil, filetable.New())
	g.DryRun = true

	require.NoError(t, g.Init())
	outcome, err := g.Prepare()
	require.NoError(t, err)
	require.Equal(t, Done, outcome)
	require.Empty(t, g.Commands())
}

func TestContainerExactAndSubsetLookup(t *testing.T) {
	c := NewContainer()

	s1 := settings.New()
	child, err := s1.Child("os")
	require.NoError(t, err)
	child.MergeAndAssign(settings.NewString("linux"))

	id1 := testId(t, s1)
	t1 := NewGeneric(id1, "app", "/out/1", Options{}, fakeCompiler{}, filetable.New())
	c.Add(t1)

	got, ok := c.Exact(s1)
	require.True(t, ok)
	require.Same(t, Target(t1), got)

	s2 := settings.New()
	child2, err := s2.Child("os")
	require.NoError(t, err)
	child2.MergeAndAssign(settings.NewString("linux"))
	extra, err := s2.Child("arch")
	require.NoError(t, err)
	extra.MergeAndAssign(settings.NewString("amd64"))

	_, ok = c.Subset(s2)
	require.True(t, ok, "a target whose settings are a subset of a richer settings tree must resolve")
}
