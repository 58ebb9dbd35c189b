package watch

import "testing"

func TestMatchPattern(t *testing.T) {
	cases := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"*.go", "main.go", true},
		{"*.go", "sub/main.go", false},
		{"**/*.go", "sub/main.go", true},
		{"**/*.go", "sub/deep/main.go", true},
		{"**/*.go", "main.go", true},
		{"src/**/*.ts", "src/a.ts", true},
		{"src/**/*.ts", "src/a/b/c.ts", true},
		{"src/**/*.ts", "other/a.ts", false},
		{"*.txt", "file.go", false},
		{"file?.txt", "file1.txt", true},
		{"file?.txt", "file12.txt", false},
	}

	for _, c := range cases {
		got := matchPattern(c.pattern, c.path)
		if got != c.want {
			t.Errorf("matchPattern(%q, %q) = %v, want %v", c.pattern, c.path, got, c.want)
		}
	}
}
