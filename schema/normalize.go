package schema

import "strings"

// ScriptSuffix is appended to every normalized script name.
const ScriptSuffix = ".cljs"

// NormalizeScriptName converts a display name into the filesystem-safe
// identifier scripts are stored under: lowercase, runs of non-alphanumeric
// characters collapsed to a single underscore, ScriptSuffix appended.
func NormalizeScriptName(name string) (ScriptName, error) {
	stem := strings.TrimSpace(name)
	stem = strings.TrimSuffix(stem, ScriptSuffix)
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(stem) {
		alnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if !alnum {
			pendingSep = b.Len() > 0
			continue
		}
		if pendingSep {
			b.WriteByte('_')
			pendingSep = false
		}
		b.WriteRune(r)
	}
	if b.Len() == 0 {
		return "", ErrInvalidName
	}
	return ScriptName(b.String() + ScriptSuffix), nil
}

// ValidateTabID rejects non-positive tab identifiers.
func ValidateTabID(tabID TabID) error {
	if tabID <= 0 {
		return ErrInvalidTab
	}
	return nil
}
