package manifest

import "strconv"

// SetName returns code with its header's script-name set to name, inserting
// a header when the script has none. The rest of the code is untouched,
// which keeps renames content-preserving for the script body.
func SetName(code, name string) string {
	quoted := strconv.Quote(name)
	start := headerStart(code)
	if start < 0 {
		return "{:epupp/script-name " + quoted + "}\n" + code
	}
	end, ok := matchBrace(code, start)
	if !ok {
		return "{:epupp/script-name " + quoted + "}\n" + code
	}
	interior := code[start+1 : end]
	if from, to, found := nameValueRange(interior); found {
		return code[:start+1+from] + quoted + code[start+1+to:]
	}
	return code[:start+1] + ":epupp/script-name " + quoted + "\n " + interior + code[end:]
}

// nameValueRange locates the value span of the script-name key inside a
// header interior.
func nameValueRange(src string) (int, int, bool) {
	i := 0
	for {
		key, next, ok := readForm(src, i)
		if !ok {
			return 0, 0, false
		}
		i = next
		valueStart := skipSpace(src, i)
		_, next, ok = readForm(src, i)
		if !ok {
			return 0, 0, false
		}
		i = next
		switch key.str {
		case ":epupp/script-name", ":epupp/name":
			return valueStart, next, true
		}
	}
}

func skipSpace(src string, i int) int {
	for i < len(src) {
		c := src[i]
		if c == ' ' || c == '\t' || c == '\r' || c == '\n' || c == ',' {
			i++
			continue
		}
		if c == ';' {
			for i < len(src) && src[i] != '\n' {
				i++
			}
			continue
		}
		break
	}
	return i
}
