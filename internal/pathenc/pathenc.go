// Package pathenc maps working-directory paths to the flat
// directory names used under <root>/projects/. The assistant
// stores each project's transcripts in a single directory whose
// name is the encoded working directory, so the mapping must be
// reversible for every path the application generates.
package pathenc

import "strings"

// Encode converts an absolute working-directory path into a flat
// directory name. Separators become hyphens; a component starting
// with a dot is marked with a doubled hyphen so Decode can recover
// it. A Windows drive letter is kept verbatim as the leading
// component.
func Encode(path string) string {
	path = strings.ReplaceAll(path, `\`, "/")
	path = strings.TrimSuffix(path, "/")

	var b strings.Builder
	comps := strings.Split(path, "/")
	for i, comp := range comps {
		if i == 0 {
			if comp != "" {
				// Drive-letter or otherwise relative root:
				// keep as-is with no leading hyphen.
				b.WriteString(comp)
			}
			continue
		}
		b.WriteByte('-')
		if strings.HasPrefix(comp, ".") {
			b.WriteByte('-')
			b.WriteString(comp[1:])
		} else {
			b.WriteString(comp)
		}
	}
	return b.String()
}

// Decode converts an encoded directory name back into a
// working-directory path. Hyphen runs are ambiguous when a
// component itself contains hyphens; when exists is non-nil it is
// consulted to prefer longer components whose directory is
// actually present on disk. Otherwise the deterministic rule
// applies: every single hyphen is a separator and every double
// hyphen marks a hidden component.
func Decode(name string, exists func(string) bool) string {
	if exists != nil {
		if p, ok := probeDecode(name, exists); ok {
			return p
		}
	}
	return deterministicDecode(name)
}

// tokens splits an encoded name into components under the
// deterministic rule. An empty token marks the next token as
// hidden. The returned prefix is "" for rooted names and the
// drive component (for example "C:") otherwise.
func tokens(name string) (prefix string, comps []string) {
	parts := strings.Split(name, "-")
	i := 0
	if len(parts) > 0 && parts[0] != "" {
		prefix = parts[0]
		i = 1
	} else {
		i = 1
	}
	for i < len(parts) {
		if parts[i] == "" && i+1 < len(parts) {
			comps = append(comps, "."+parts[i+1])
			i += 2
			continue
		}
		comps = append(comps, parts[i])
		i++
	}
	return prefix, comps
}

func deterministicDecode(name string) string {
	prefix, comps := tokens(name)
	return prefix + "/" + strings.Join(comps, "/")
}

// probeDecode greedily merges adjacent components (restoring the
// hyphen between them) whenever the merged directory exists on
// disk, preferring the longest merge at each step. Returns false
// when the fully-decoded path does not exist, in which case the
// caller falls back to the deterministic decode.
func probeDecode(name string, exists func(string) bool) (string, bool) {
	prefix, comps := tokens(name)

	path := prefix
	for i := 0; i < len(comps); {
		// Try the longest run of components joined by literal
		// hyphens first, shrinking toward a single component.
		merged := false
		for j := len(comps); j > i; j-- {
			candidate := path + "/" + strings.Join(comps[i:j], "-")
			if exists(candidate) {
				path = candidate
				i = j
				merged = true
				break
			}
		}
		if !merged {
			path = path + "/" + comps[i]
			i++
		}
	}
	if exists(path) {
		return path, true
	}
	return "", false
}
