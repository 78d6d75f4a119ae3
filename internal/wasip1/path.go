package wasip1

import (
	"context"
	"strings"

	"github.com/wasmkit/wasibox/internal/sandbox"
	"github.com/wasmkit/wasibox/internal/wasi"
)

// normalizePath splits a path relative to a preopen root into its cleaned
// components. "." components are dropped and ".." pops the previously
// accumulated component; popping past the root is the capability violation
// the sandbox exists to prevent and fails with ENOTCAPABLE.
func normalizePath(path string) ([]string, wasi.Errno) {
	parts := make([]string, 0, 8)
	for i := 0; i < len(path); {
		for i < len(path) && path[i] == '/' {
			i++
		}
		j := i
		for j < len(path) && path[j] != '/' {
			j++
		}
		switch elem := path[i:j]; elem {
		case "", ".":
		case "..":
			if len(parts) == 0 {
				return nil, wasi.ENOTCAPABLE
			}
			parts = parts[:len(parts)-1]
		default:
			parts = append(parts, elem)
		}
		i = j
	}
	return parts, wasi.ESUCCESS
}

// resolvePath walks the normalized path down from root, opening one
// directory at a time, and returns the parent directory along with the leaf
// name and the cleaned relative path. A path naming the root itself returns
// (root, "", "."). A missing directory on the walk is ENOENT.
func resolvePath(ctx context.Context, root sandbox.DirHandle, path string) (parent sandbox.DirHandle, name, rel string, errno wasi.Errno) {
	parts, errno := normalizePath(path)
	if errno != wasi.ESUCCESS {
		return nil, "", "", errno
	}
	if len(parts) == 0 {
		return root, "", ".", wasi.ESUCCESS
	}
	parent = root
	for _, elem := range parts[:len(parts)-1] {
		next, err := parent.OpenDir(ctx, elem, false)
		if err != nil {
			return nil, "", "", wasi.ENOENT
		}
		parent = next
	}
	return parent, parts[len(parts)-1], strings.Join(parts, "/"), wasi.ESUCCESS
}

// preopen is a pre-opened directory capability registered at construction.
type preopen struct {
	fd   wasi.FD
	path string
	dir  sandbox.DirHandle
}

// selectPreopen matches an absolute guest path against the preopen mount
// points and returns the index of the selected preopen along with the
// remaining path relative to it. The longest matching prefix wins;
// registration order breaks ties in favor of the later mount. Matches stop
// at component boundaries: "/ab" does not match the prefix "/a".
func selectPreopen(preopens []preopen, path string) (int, string, wasi.Errno) {
	best := -1
	bestLen := -1
	for i := len(preopens) - 1; i >= 0; i-- {
		prefix := trimTrailingSlash(preopens[i].path)
		if !matchPathPrefix(path, prefix) {
			continue
		}
		if len(prefix) > bestLen {
			best, bestLen = i, len(prefix)
		}
	}
	if best < 0 {
		return -1, "", wasi.ENOENT
	}
	rel := trimLeadingSlash(path[bestLen:])
	if rel == "" {
		rel = "."
	}
	return best, rel, wasi.ESUCCESS
}

func matchPathPrefix(path, prefix string) bool {
	if prefix == "" || prefix == "/" {
		return isAbs(path)
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}

func isAbs(path string) bool {
	return len(path) > 0 && path[0] == '/'
}

func trimLeadingSlash(s string) string {
	i := 0
	for i < len(s) && s[i] == '/' {
		i++
	}
	return s[i:]
}

func trimTrailingSlash(s string) string {
	i := len(s)
	for i > 0 && s[i-1] == '/' {
		i--
	}
	return s[:i]
}

// joinPath joins two already clean paths.
func joinPath(dir, name string) string {
	if name == "" || name == "." {
		return dir
	}
	return trimTrailingSlash(dir) + "/" + trimLeadingSlash(name)
}
