// Copyright 2026 Rob Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

// Package safepath confines user-supplied paths to a workspace root.
//
// Resolve is a defense-in-depth policy, not an error signal: a path
// that would escape the workspace is silently remapped to a
// workspace-local path instead of being rejected. The caller never
// learns that escape was attempted. Symlink traversal at the OS layer
// is out of scope — the agent trusts its own workspace contents.
package safepath

import (
	"path/filepath"
	"strings"
)

// Resolve normalizes join(workdir, userPath). If the normalized result
// is a descendant of workdir, it is returned as-is. Otherwise every
// ".." segment in userPath is stripped and the remainder is rejoined
// under workdir, guaranteeing the result is always inside workdir.
func Resolve(workdir, userPath string) string {
	workdir = filepath.Clean(workdir)

	joined := filepath.Join(workdir, userPath)
	if isWithin(joined, workdir) {
		return joined
	}

	stripped := stripDotDot(userPath)
	joined = filepath.Join(workdir, stripped)
	if isWithin(joined, workdir) {
		return joined
	}

	// Stripping every ".." segment and rejoining under workdir always
	// lands inside workdir; this branch exists only as a final backstop
	// for path strings Clean cannot further simplify.
	return workdir
}

// RelFromAbs returns path relative to root, prefixed with "/", for
// reporting workspace-relative paths back to clients.
func RelFromAbs(root, abs string) string {
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return "/"
	}
	rel = filepath.ToSlash(rel)
	if rel == "." {
		return "/"
	}
	if !strings.HasPrefix(rel, "/") {
		rel = "/" + rel
	}
	return rel
}

func isWithin(path, root string) bool {
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}

// stripDotDot removes every ".." path segment from userPath, leaving
// the remaining segments in order.
func stripDotDot(userPath string) string {
	parts := strings.Split(filepath.ToSlash(userPath), "/")
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == ".." || p == "" || p == "." {
			continue
		}
		kept = append(kept, p)
	}
	return strings.Join(kept, "/")
}
