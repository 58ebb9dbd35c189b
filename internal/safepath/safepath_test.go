package safepath

import (
	"path/filepath"
	"testing"
)

func TestResolveKeepsOrdinaryPathsInsideWorkdir(t *testing.T) {
	workdir := "/workspace"
	got := Resolve(workdir, "src/main.go")
	want := filepath.Join(workdir, "src/main.go")
	if got != want {
		t.Errorf("Resolve() = %q, want %q", got, want)
	}
}

func TestResolveStripsParentTraversalInsteadOfRejecting(t *testing.T) {
	workdir := "/workspace"
	got := Resolve(workdir, "../../etc/passwd")
	want := filepath.Join(workdir, "etc/passwd")
	if got != want {
		t.Errorf("Resolve() = %q, want %q (escape should be remapped, not rejected)", got, want)
	}
	if !isWithin(got, workdir) {
		t.Errorf("Resolve() = %q escaped workdir %q", got, workdir)
	}
}

func TestResolveHandlesAbsoluteEscapeAttempt(t *testing.T) {
	workdir := "/workspace"
	got := Resolve(workdir, "/etc/passwd")
	if !isWithin(got, workdir) {
		t.Errorf("Resolve() = %q escaped workdir %q", got, workdir)
	}
}

func TestResolveOfWorkdirItselfReturnsWorkdir(t *testing.T) {
	workdir := "/workspace"
	got := Resolve(workdir, ".")
	if got != workdir {
		t.Errorf("Resolve(workdir, \".\") = %q, want %q", got, workdir)
	}
}

func TestRelFromAbsProducesSlashPrefixedRelativePath(t *testing.T) {
	root := "/workspace"
	got := RelFromAbs(root, "/workspace/src/main.go")
	want := "/src/main.go"
	if got != want {
		t.Errorf("RelFromAbs() = %q, want %q", got, want)
	}
}

func TestRelFromAbsOfRootItselfReturnsSlash(t *testing.T) {
	root := "/workspace"
	got := RelFromAbs(root, "/workspace")
	if got != "/" {
		t.Errorf("RelFromAbs(root, root) = %q, want %q", got, "/")
	}
}

func TestRelFromAbsFallsBackToSlashOnUnrelatablePaths(t *testing.T) {
	got := RelFromAbs("relative-root", "/completely/different")
	if got != "/" {
		t.Errorf("RelFromAbs() = %q, want fallback %q", got, "/")
	}
}
