package transcript

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// RewriteCwd rewrites the cwd field of every record in a
// transcript file to newCwd, writing through a temp file and
// renaming so readers never observe a half-written file. Lines
// without a cwd field and malformed lines pass through byte for
// byte. Returns the number of lines rewritten; zero means the
// file was not touched.
func RewriteCwd(path, newCwd string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", path, err)
	}

	lines := strings.Split(string(data), "\n")
	changed := 0
	for i, line := range lines {
		if line == "" || !gjson.Valid(line) {
			continue
		}
		cwd := gjson.Get(line, "cwd")
		if !cwd.Exists() || cwd.Str == newCwd {
			continue
		}
		patched, err := sjson.Set(line, "cwd", newCwd)
		if err != nil {
			return 0, fmt.Errorf("patching line %d: %w", i+1, err)
		}
		lines[i] = patched
		changed++
	}
	if changed == 0 {
		return 0, nil
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(strings.Join(lines, "\n")); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return 0, fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return 0, fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return 0, fmt.Errorf("replacing %s: %w", path, err)
	}
	return changed, nil
}
