package sandbox

import (
	"regexp"
	"strings"
)

var (
	importMath = regexp.MustCompile(`^import\s+math(?:\s+as\s+(\w+))?\s*$`)
	fromMath   = regexp.MustCompile(`^from\s+math\s+import\s+(.+)$`)
	// Operands are names, numbers, calls or parenthesised groups without
	// nested parentheses.
	power = regexp.MustCompile(`([\w.]*\([^()]*\)|[\w.]+)\s*\*\*\s*(-?[\w.]+(?:\([^()]*\))?|\([^()]*\))`)
)

// Preprocess adapts Python-flavoured model output to Starlark. Markdown
// fences are dropped, f-strings become str.format calls, math imports become
// bindings to the predeclared math module and the ** operator becomes a pow
// call. String literals and comments are not rewritten.
func Preprocess(code string) string {
	code = stripFences(code)
	code = convertFStrings(code)
	masked, restore := maskLiterals(code)

	lines := strings.Split(masked, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
		if m := importMath.FindStringSubmatch(trimmed); m != nil {
			if m[1] != "" {
				out = append(out, indent+m[1]+" = math")
			}
			continue
		}
		if m := fromMath.FindStringSubmatch(trimmed); m != nil {
			for _, name := range strings.Split(strings.Trim(m[1], "() "), ",") {
				fields := strings.Fields(name)
				switch {
				case len(fields) == 1:
					out = append(out, indent+fields[0]+" = math."+fields[0])
				case len(fields) == 3 && fields[1] == "as":
					out = append(out, indent+fields[2]+" = math."+fields[0])
				}
			}
			continue
		}
		out = append(out, rewritePower(line))
	}
	return restore.Replace(strings.Join(out, "\n"))
}

func stripFences(code string) string {
	lines := strings.Split(strings.ReplaceAll(code, "\r\n", "\n"), "\n")
	out := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// rewritePower replaces a ** b with pow(a, b), innermost first.
func rewritePower(line string) string {
	for i := 0; i < 16 && strings.Contains(line, "**"); i++ {
		next := power.ReplaceAllString(line, "pow($1, $2)")
		if next == line {
			break
		}
		line = next
	}
	return line
}

type tokenKind int

const (
	codeToken tokenKind = iota
	stringToken
	commentToken
)

type token struct {
	kind tokenKind
	text string
}

// lex splits src into code, string literals (with their prefix and quotes)
// and comments.
func lex(src string) (tokens []token) {
	start := 0
	emit := func(kind tokenKind, from, to int) {
		if to > from {
			tokens = append(tokens, token{kind: kind, text: src[from:to]})
		}
	}
	for i := 0; i < len(src); {
		switch src[i] {
		case '#':
			end := strings.IndexByte(src[i:], '\n')
			if end < 0 {
				end = len(src)
			} else {
				end += i
			}
			emit(codeToken, start, i)
			emit(commentToken, i, end)
			start, i = end, end
		case '"', '\'':
			from := stringPrefixStart(src, start, i)
			end := stringEnd(src, i)
			emit(codeToken, start, from)
			emit(stringToken, from, end)
			start, i = end, end
		default:
			i++
		}
	}
	emit(codeToken, start, len(src))
	return tokens
}

// stringPrefixStart returns the index of a string prefix such as r, b, f or
// rb immediately before the quote at i, or i if there is none.
func stringPrefixStart(src string, start, i int) int {
	j := i
	for j > start && i-j < 2 && strings.IndexByte("rRbBfFuU", src[j-1]) >= 0 {
		j--
	}
	if j > 0 && isWordByte(src[j-1]) {
		return i
	}
	return j
}

func isWordByte(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

// stringEnd returns the index just past the string literal opening at i. An
// unterminated single-quoted string ends at the newline.
func stringEnd(src string, i int) int {
	q := src[i : i+1]
	if triple := strings.Repeat(q, 3); strings.HasPrefix(src[i:], triple) {
		for j := i + 3; j < len(src); j++ {
			if src[j] == '\\' {
				j++
				continue
			}
			if strings.HasPrefix(src[j:], triple) {
				return j + 3
			}
		}
		return len(src)
	}
	for j := i + 1; j < len(src); j++ {
		switch src[j] {
		case '\\':
			j++
		case q[0]:
			return j + 1
		case '\n':
			return j
		}
	}
	return len(src)
}

// convertFStrings rewrites f"a {x:.2f}" as "a {:.2f}".format((x)). Nested
// f-strings inside replacement fields are converted by later passes.
func convertFStrings(code string) string {
	for pass := 0; pass < 4; pass++ {
		var sb strings.Builder
		var changed bool
		for _, t := range lex(code) {
			if t.kind == stringToken {
				if converted := convertFString(t.text); converted != t.text {
					sb.WriteString(converted)
					changed = true
					continue
				}
			}
			sb.WriteString(t.text)
		}
		if !changed {
			break
		}
		code = sb.String()
	}
	return code
}

func convertFString(lit string) string {
	i := strings.IndexAny(lit, `"'`)
	prefix, rest := lit[:i], lit[i:]
	if !strings.ContainsAny(prefix, "fF") {
		return lit
	}
	quote := rest[:1]
	if triple := strings.Repeat(quote, 3); len(rest) >= 6 && strings.HasPrefix(rest, triple) {
		quote = triple
	}
	if len(rest) < 2*len(quote) || !strings.HasSuffix(rest, quote) {
		return lit
	}
	body := rest[len(quote) : len(rest)-len(quote)]
	prefix = strings.NewReplacer("f", "", "F", "").Replace(prefix)
	template, args := fStringTemplate(body)
	out := prefix + quote + template + quote
	if len(args) > 0 {
		out += ".format(" + strings.Join(args, ", ") + ")"
	}
	return out
}

// fStringTemplate replaces each replacement field expression with an
// automatically numbered field and returns the expressions in order.
func fStringTemplate(body string) (template string, args []string) {
	var sb strings.Builder
	for k := 0; k < len(body); k++ {
		c := body[k]
		switch {
		case (c == '{' || c == '}') && k+1 < len(body) && body[k+1] == c:
			sb.WriteString(body[k : k+2])
			k++
		case c == '{':
			end := fieldClose(body, k+1)
			if end < 0 {
				sb.WriteString(body[k:])
				return sb.String(), args
			}
			field, fieldArgs := convertField(body[k+1 : end])
			sb.WriteString(field)
			args = append(args, fieldArgs...)
			k = end
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String(), args
}

// fieldClose returns the index of the } that closes the replacement field
// starting at i, or -1.
func fieldClose(s string, i int) int {
	depth := 0
	inSpec := false
	for ; i < len(s); i++ {
		c := s[i]
		switch {
		case !inSpec && (c == '"' || c == '\''):
			end := strings.IndexByte(s[i+1:], c)
			if end < 0 {
				return -1
			}
			i += end + 1
		case c == '(' || c == '[' || c == '{':
			depth++
		case c == ')' || c == ']':
			depth--
		case c == '}':
			if depth == 0 {
				return i
			}
			depth--
		case c == ':' && depth == 0:
			inSpec = true
		}
	}
	return -1
}

// convertField splits expr!conv:spec and returns the field without its
// expression, plus the expressions it references.
func convertField(field string) (string, []string) {
	expr, conv, spec := field, "", ""
	hasConv, hasSpec := false, false
	depth := 0
scan:
	for i := 0; i < len(field); i++ {
		c := field[i]
		switch {
		case c == '"' || c == '\'':
			if end := strings.IndexByte(field[i+1:], c); end >= 0 {
				i += end + 1
			}
		case c == '(' || c == '[' || c == '{':
			depth++
		case c == ')' || c == ']' || c == '}':
			depth--
		case depth > 0:
		case c == '!' && i+1 < len(field) && field[i+1] != '=':
			expr = field[:i]
			conv, hasConv = field[i+1:], true
			if j := strings.IndexByte(conv, ':'); j >= 0 {
				conv, spec, hasSpec = conv[:j], conv[j+1:], true
			}
			break scan
		case c == ':':
			expr, spec, hasSpec = field[:i], field[i+1:], true
			break scan
		}
	}

	var sb strings.Builder
	code := strings.TrimRight(expr, " ")
	if isSelfDocumenting(code) {
		sb.WriteString(strings.NewReplacer("{", "{{", "}", "}}").Replace(expr))
		code = strings.TrimSuffix(code, "=")
		if !hasConv && !hasSpec {
			conv, hasConv = "r", true
		}
	}
	args := []string{"(" + strings.TrimSpace(code) + ")"}
	sb.WriteByte('{')
	if hasConv {
		sb.WriteString("!" + conv)
	}
	if hasSpec {
		specTemplate, specArgs := fStringTemplate(spec)
		sb.WriteString(":" + specTemplate)
		args = append(args, specArgs...)
	}
	sb.WriteByte('}')
	return sb.String(), args
}

func isSelfDocumenting(expr string) bool {
	if !strings.HasSuffix(expr, "=") {
		return false
	}
	for _, op := range []string{"==", "!=", "<=", ">="} {
		if strings.HasSuffix(expr, op) {
			return false
		}
	}
	return true
}

// maskLiterals replaces string literals and comments with placeholders that
// no rewrite pattern matches. The returned replacer restores them.
func maskLiterals(code string) (string, *strings.Replacer) {
	var sb strings.Builder
	var pairs []string
	for _, t := range lex(code) {
		if t.kind == codeToken {
			sb.WriteString(t.text)
			continue
		}
		p := placeholder(len(pairs) / 2)
		pairs = append(pairs, p, t.text)
		sb.WriteString(p)
	}
	return sb.String(), strings.NewReplacer(pairs...)
}

// placeholder encodes n as private use runes, which are not word characters.
func placeholder(n int) string {
	var sb strings.Builder
	sb.WriteRune('\uE000')
	for {
		sb.WriteRune(rune(0xE100 + n%256))
		n /= 256
		if n == 0 {
			break
		}
	}
	sb.WriteRune('\uE001')
	return sb.String()
}
