package normalize

import (
	"bytes"
	"regexp"
)

// Lines of a fixit/trace file that carry a source path. Group 1 is the key
// prefix, group 2 the single-quoted path.
var tracePathLines = []*regexp.Regexp{
	regexp.MustCompile(`^(MainSourceFile:\s*)'(.*)'`),
	regexp.MustCompile(`^(\s*-? FilePath:\s*)'(.*)'`),
}

// rewriteTrace resolves the quoted path of every path-bearing line. Each
// line keeps its terminator and any text after the closing quote.
func rewriteTrace(data []byte, resolve func(string) string) (out []byte, changed int) {
	lines := bytes.SplitAfter(data, []byte("\n"))
	var buf bytes.Buffer
	buf.Grow(len(data))
	for _, line := range lines {
		body, eol := splitEOL(line)
		for _, re := range tracePathLines {
			m := re.FindSubmatchIndex(body)
			if m == nil {
				continue
			}
			original := string(body[m[4]:m[5]])
			resolved := resolve(original)
			if resolved != original {
				changed++
				var nl []byte
				nl = append(nl, body[m[2]:m[3]]...)
				nl = append(nl, '\'')
				nl = append(nl, resolved...)
				nl = append(nl, '\'')
				nl = append(nl, body[m[1]:]...)
				body = nl
			}
			break
		}
		buf.Write(body)
		buf.Write(eol)
	}
	if changed == 0 {
		return nil, 0
	}
	return buf.Bytes(), changed
}

func splitEOL(line []byte) (body, eol []byte) {
	switch {
	case bytes.HasSuffix(line, []byte("\r\n")):
		return line[:len(line)-2], line[len(line)-2:]
	case bytes.HasSuffix(line, []byte("\n")):
		return line[:len(line)-1], line[len(line)-1:]
	default:
		return line, nil
	}
}
