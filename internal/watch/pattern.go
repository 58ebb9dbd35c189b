// Copyright 2026 Rob Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

package watch

import "strings"

// matchPattern reports whether relPath (slash-separated, workspace
// relative, no leading slash) matches a glob pattern supporting "**"
// (any number of path segments, including zero), "*" (any run of
// characters within one segment) and "?" (any single character within
// one segment).
//
// No pack example imports a third-party doublestar-glob library; they
// all hand-roll segment-based matching (see bureau-foundation-bureau's
// lib/principal pattern matcher), so this follows the corpus's own
// idiom rather than reaching outside it.
func matchPattern(pattern, relPath string) bool {
	return matchSegments(splitSegments(pattern), splitSegments(relPath))
}

func splitSegments(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func matchSegments(pattern, path []string) bool {
	if len(pattern) == 0 {
		return len(path) == 0
	}
	if pattern[0] == "**" {
		if matchSegments(pattern[1:], path) {
			return true
		}
		if len(path) == 0 {
			return false
		}
		return matchSegments(pattern, path[1:])
	}
	if len(path) == 0 {
		return false
	}
	if !matchSegment(pattern[0], path[0]) {
		return false
	}
	return matchSegments(pattern[1:], path[1:])
}

// matchSegment matches one path segment against one pattern segment
// containing "*" and "?" wildcards (no "/" crossing).
func matchSegment(pattern, segment string) bool {
	return matchSegmentRunes([]rune(pattern), []rune(segment))
}

func matchSegmentRunes(pattern, segment []rune) bool {
	if len(pattern) == 0 {
		return len(segment) == 0
	}
	switch pattern[0] {
	case '*':
		if matchSegmentRunes(pattern[1:], segment) {
			return true
		}
		if len(segment) == 0 {
			return false
		}
		return matchSegmentRunes(pattern, segment[1:])
	case '?':
		if len(segment) == 0 {
			return false
		}
		return matchSegmentRunes(pattern[1:], segment[1:])
	default:
		if len(segment) == 0 || segment[0] != pattern[0] {
			return false
		}
		return matchSegmentRunes(pattern[1:], segment[1:])
	}
}
