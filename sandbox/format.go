package sandbox

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// percent implements x % y. Strings are formatted like Python's printf-style
// formatting, everything else keeps the Starlark operator.
func percent(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x, y starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &x, &y); err != nil {
		return nil, err
	}
	s, ok := x.(starlark.String)
	if !ok {
		return starlark.Binary(syntax.PERCENT, x, y)
	}
	out, err := percentFormat(string(s), y)
	if err != nil {
		return nil, err
	}
	return starlark.String(out), nil
}

// format implements recv.format(*args, **kwargs) for strings and falls back
// to the receiver's own format attribute otherwise.
func format(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("format: missing receiver")
	}
	s, ok := args[0].(starlark.String)
	if !ok {
		attr, err := getAttr(args[0], "format")
		if err != nil {
			return nil, err
		}
		return starlark.Call(thread, attr, args[1:], kwargs)
	}
	named := make(map[string]starlark.Value, len(kwargs))
	for _, kv := range kwargs {
		named[string(kv[0].(starlark.String))] = kv[1]
	}
	f := &formatter{positional: args[1:], named: named}
	out, err := f.format(string(s), 0)
	if err != nil {
		return nil, err
	}
	return starlark.String(out), nil
}

func getAttr(v starlark.Value, name string) (starlark.Value, error) {
	if h, ok := v.(starlark.HasAttrs); ok {
		attr, err := h.Attr(name)
		if err != nil {
			return nil, err
		}
		if attr != nil {
			return attr, nil
		}
	}
	return nil, fmt.Errorf("%s has no .%s field or method", v.Type(), name)
}

// percentFormat formats s with the printf-style conversions
// d i u o x X e E f F g G c r s a and %%.
func percentFormat(s string, arg starlark.Value) (string, error) {
	var args []starlark.Value
	var mapping starlark.Mapping
	switch a := arg.(type) {
	case starlark.Tuple:
		args = a
	case starlark.Mapping:
		mapping = a
		args = []starlark.Value{a}
	default:
		args = []starlark.Value{a}
	}
	var next int
	nextArg := func() (starlark.Value, error) {
		if next >= len(args) {
			return nil, fmt.Errorf("not enough arguments for format string")
		}
		v := args[next]
		next++
		return v, nil
	}
	var usedMapping bool

	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '%' {
			sb.WriteByte(c)
			continue
		}
		i++
		if i >= len(s) {
			return "", fmt.Errorf("incomplete format")
		}
		var v starlark.Value
		if s[i] == '(' {
			end := strings.IndexByte(s[i:], ')')
			if end < 0 {
				return "", fmt.Errorf("incomplete format key")
			}
			if mapping == nil {
				return "", fmt.Errorf("format requires a mapping")
			}
			key := s[i+1 : i+end]
			val, found, err := mapping.Get(starlark.String(key))
			if err != nil {
				return "", err
			}
			if !found {
				return "", fmt.Errorf("key %q not found", key)
			}
			v = val
			usedMapping = true
			i += end + 1
		}
		var spec numberSpec
		spec.align = '>'
		for ; i < len(s) && strings.IndexByte("-+ #0", s[i]) >= 0; i++ {
			switch s[i] {
			case '-':
				spec.align = '<'
			case '+':
				spec.sign = '+'
			case ' ':
				if spec.sign != '+' {
					spec.sign = ' '
				}
			case '#':
				spec.alternate = true
			case '0':
				spec.zero = true
			}
		}
		width, n, err := percentNumber(s[i:], nextArg)
		if err != nil {
			return "", err
		}
		i += n
		if width < 0 {
			spec.align = '<'
			width = -width
		}
		spec.width = width
		spec.precision = -1
		if i < len(s) && s[i] == '.' {
			i++
			p, n, err := percentNumber(s[i:], nextArg)
			if err != nil {
				return "", err
			}
			i += n
			spec.precision = max(p, 0)
		}
		for i < len(s) && strings.IndexByte("hlL", s[i]) >= 0 {
			i++
		}
		if i >= len(s) {
			return "", fmt.Errorf("incomplete format")
		}
		conv := s[i]
		if conv == '%' {
			sb.WriteByte('%')
			continue
		}
		if v == nil {
			if v, err = nextArg(); err != nil {
				return "", err
			}
		}
		if spec.zero && spec.align == '>' && strings.IndexByte("diouxXeEfFgG", conv) >= 0 {
			spec.align = '='
			spec.fill = '0'
		}
		out, err := formatValue(v, conv, spec)
		if err != nil {
			return "", err
		}
		sb.WriteString(out)
	}
	if !usedMapping && next < len(args) {
		return "", fmt.Errorf("not all arguments converted during string formatting")
	}
	return sb.String(), nil
}

// percentNumber reads a width or precision: digits, or * to take it from the
// arguments. It returns 0 when there is none.
func percentNumber(s string, nextArg func() (starlark.Value, error)) (n int, consumed int, err error) {
	if strings.HasPrefix(s, "*") {
		v, err := nextArg()
		if err != nil {
			return 0, 0, err
		}
		i, err := starlark.AsInt32(v)
		if err != nil {
			return 0, 0, fmt.Errorf("* wants int: %w", err)
		}
		return i, 1, nil
	}
	for consumed < len(s) && s[consumed] >= '0' && s[consumed] <= '9' {
		consumed++
	}
	if consumed == 0 {
		return 0, 0, nil
	}
	n, err = strconv.Atoi(s[:consumed])
	return n, consumed, err
}

type formatter struct {
	positional starlark.Tuple
	named      map[string]starlark.Value
	auto       int
	manual     bool
}

// format expands the replacement fields of template as str.format does.
func (f *formatter) format(template string, depth int) (string, error) {
	if depth > 1 {
		return "", fmt.Errorf("max string recursion exceeded")
	}
	var sb strings.Builder
	for i := 0; i < len(template); i++ {
		c := template[i]
		switch {
		case c == '{' && strings.HasPrefix(template[i:], "{{"):
			sb.WriteByte('{')
			i++
		case c == '}' && strings.HasPrefix(template[i:], "}}"):
			sb.WriteByte('}')
			i++
		case c == '}':
			return "", fmt.Errorf("single '}' encountered in format string")
		case c == '{':
			end, err := fieldEnd(template, i+1)
			if err != nil {
				return "", err
			}
			out, err := f.field(template[i+1:end], depth)
			if err != nil {
				return "", err
			}
			sb.WriteString(out)
			i = end
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String(), nil
}

// fieldEnd returns the index of the } closing the field that starts at i,
// allowing nested fields in the format spec.
func fieldEnd(template string, i int) (int, error) {
	depth := 1
	for ; i < len(template); i++ {
		switch template[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, nil
			}
		}
	}
	return 0, fmt.Errorf("expected '}' before end of string")
}

func (f *formatter) field(field string, depth int) (string, error) {
	name, spec, _ := strings.Cut(field, ":")
	name, conv, hasConv := strings.Cut(name, "!")
	v, err := f.lookup(name)
	if err != nil {
		return "", err
	}
	if strings.Contains(spec, "{") {
		if spec, err = f.format(spec, depth+1); err != nil {
			return "", err
		}
	}
	if hasConv {
		switch conv {
		case "r", "a":
			v = starlark.String(v.String())
		case "s":
			v = starlark.String(str(v))
		default:
			return "", fmt.Errorf("unknown conversion %q", conv)
		}
	}
	return formatSpec(v, spec)
}

// lookup resolves a field name: empty for the next positional argument, an
// index, or a keyword, followed by .attr and [key] accessors.
func (f *formatter) lookup(name string) (starlark.Value, error) {
	end := strings.IndexAny(name, ".[")
	if end < 0 {
		end = len(name)
	}
	first, rest := name[:end], name[end:]
	var v starlark.Value
	switch {
	case first == "":
		if f.manual {
			return nil, fmt.Errorf("cannot switch from manual field numbering to automatic")
		}
		if f.auto >= len(f.positional) {
			return nil, fmt.Errorf("replacement index %d out of range", f.auto)
		}
		v = f.positional[f.auto]
		f.auto++
	case isDigits(first):
		if f.auto > 0 {
			return nil, fmt.Errorf("cannot switch from automatic field numbering to manual")
		}
		f.manual = true
		i, _ := strconv.Atoi(first)
		if i >= len(f.positional) {
			return nil, fmt.Errorf("replacement index %d out of range", i)
		}
		v = f.positional[i]
	default:
		var ok bool
		if v, ok = f.named[first]; !ok {
			return nil, fmt.Errorf("keyword %s not found", first)
		}
	}
	for rest != "" {
		switch rest[0] {
		case '.':
			end := strings.IndexAny(rest[1:], ".[")
			if end < 0 {
				end = len(rest) - 1
			}
			attr, err := getAttr(v, rest[1:end+1])
			if err != nil {
				return nil, err
			}
			v, rest = attr, rest[end+1:]
		case '[':
			end := strings.IndexByte(rest, ']')
			if end < 0 {
				return nil, fmt.Errorf("missing ']' in format string")
			}
			key := rest[1:end]
			var k starlark.Value = starlark.String(key)
			if isDigits(key) {
				i, _ := strconv.Atoi(key)
				k = starlark.MakeInt(i)
			}
			item, err := index(v, k)
			if err != nil {
				return nil, err
			}
			v, rest = item, rest[end+1:]
		default:
			return nil, fmt.Errorf("only '.' or '[' may follow ']' in format field specifier")
		}
	}
	return v, nil
}

func index(v, k starlark.Value) (starlark.Value, error) {
	switch x := v.(type) {
	case starlark.Mapping:
		item, found, err := x.Get(k)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("key %s not found", k)
		}
		return item, nil
	case starlark.Indexable:
		i, err := starlark.AsInt32(k)
		if err != nil {
			return nil, err
		}
		if i < 0 || i >= x.Len() {
			return nil, fmt.Errorf("index %d out of range", i)
		}
		return x.Index(i), nil
	}
	return nil, fmt.Errorf("unhandled index: %s[%s]", v.Type(), k)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// str is Python's str(v): strings without quotes, everything else as printed.
func str(v starlark.Value) string {
	if s, ok := v.(starlark.String); ok {
		return string(s)
	}
	return v.String()
}

type numberSpec struct {
	fill      rune
	align     byte
	sign      byte
	alternate bool
	zero      bool
	width     int
	grouping  byte
	precision int
}

// formatSpec applies the format spec mini-language
// [[fill]align][sign][#][0][width][,|_][.precision][type].
func formatSpec(v starlark.Value, spec string) (string, error) {
	var ns numberSpec
	ns.precision = -1
	rest := spec
	if r, size := utf8.DecodeRuneInString(rest); size > 0 && len(rest) > size && strings.IndexByte("<>=^", rest[size]) >= 0 {
		ns.fill, ns.align = r, rest[size]
		rest = rest[size+1:]
	} else if rest != "" && strings.IndexByte("<>=^", rest[0]) >= 0 {
		ns.align = rest[0]
		rest = rest[1:]
	}
	if rest != "" && strings.IndexByte("+- ", rest[0]) >= 0 {
		ns.sign = rest[0]
		rest = rest[1:]
	}
	if strings.HasPrefix(rest, "#") {
		ns.alternate = true
		rest = rest[1:]
	}
	if strings.HasPrefix(rest, "0") {
		ns.zero = true
		rest = rest[1:]
	}
	var n int
	for n < len(rest) && rest[n] >= '0' && rest[n] <= '9' {
		n++
	}
	if n > 0 {
		ns.width, _ = strconv.Atoi(rest[:n])
		rest = rest[n:]
	}
	if rest != "" && (rest[0] == ',' || rest[0] == '_') {
		ns.grouping = rest[0]
		rest = rest[1:]
	}
	if strings.HasPrefix(rest, ".") {
		n = 1
		for n < len(rest) && rest[n] >= '0' && rest[n] <= '9' {
			n++
		}
		if n == 1 {
			return "", fmt.Errorf("format specifier missing precision")
		}
		ns.precision, _ = strconv.Atoi(rest[1:n])
		rest = rest[n:]
	}
	var conv byte
	switch len(rest) {
	case 0:
	case 1:
		conv = rest[0]
	default:
		return "", fmt.Errorf("invalid format specifier %q", spec)
	}
	if ns.zero && ns.align == 0 {
		ns.fill, ns.align = '0', '='
	}
	if ns.fill == 0 {
		ns.fill = ' '
	}
	if ns.align == 0 {
		ns.align = '>'
		if _, ok := v.(starlark.String); ok || (conv == 0 || conv == 's') && !isNumber(v) {
			ns.align = '<'
		}
	}
	return formatValue(v, conv, ns)
}

func isNumber(v starlark.Value) bool {
	switch v.(type) {
	case starlark.Int, starlark.Float:
		return true
	}
	return false
}

// formatValue formats v for one conversion character. A zero conv uses the
// value's natural presentation.
func formatValue(v starlark.Value, conv byte, spec numberSpec) (string, error) {
	if spec.fill == 0 {
		spec.fill = ' '
	}
	if b, ok := v.(starlark.Bool); ok && conv != 0 && strings.IndexByte("sra", conv) < 0 {
		v = starlark.MakeInt(0)
		if b {
			v = starlark.MakeInt(1)
		}
	}
	switch conv {
	case 'd', 'i', 'u', 'n', 'b', 'o', 'x', 'X':
		i, err := toInt(v)
		if err != nil {
			return "", fmt.Errorf("%%%c format: %w", conv, err)
		}
		return formatInt(i, conv, spec), nil
	case 'e', 'E', 'f', 'F', 'g', 'G', '%':
		f, ok := starlark.AsFloat(v)
		if !ok {
			return "", fmt.Errorf("%%%c format: a real number is required, not %s", conv, v.Type())
		}
		return formatFloat(f, conv, spec), nil
	case 'c':
		var s string
		switch x := v.(type) {
		case starlark.String:
			if utf8.RuneCountInString(string(x)) != 1 {
				return "", fmt.Errorf("%%c requires a single character")
			}
			s = string(x)
		default:
			i, err := starlark.AsInt32(v)
			if err != nil {
				return "", fmt.Errorf("%%c requires int or char")
			}
			s = string(rune(i))
		}
		return pad(s, "", spec), nil
	case 'r', 'a':
		return pad(truncate(v.String(), spec.precision), "", spec), nil
	case 's':
		return pad(truncate(str(v), spec.precision), "", spec), nil
	case 0:
		switch x := v.(type) {
		case starlark.Int:
			return formatInt(x, 'd', spec), nil
		case starlark.Float:
			if spec.precision < 0 {
				s := x.String()
				sign := ""
				if strings.HasPrefix(s, "-") {
					sign, s = "-", s[1:]
				} else if spec.sign == '+' || spec.sign == ' ' {
					sign = string(spec.sign)
				}
				return pad(groupNumber(s, spec.grouping), sign, spec), nil
			}
			return formatFloat(float64(x), 0, spec), nil
		}
		return pad(truncate(str(v), spec.precision), "", spec), nil
	}
	return "", fmt.Errorf("unknown conversion %%%c", conv)
}

func toInt(v starlark.Value) (starlark.Int, error) {
	switch x := v.(type) {
	case starlark.Int:
		return x, nil
	case starlark.Float:
		return starlark.NumberToInt(x)
	}
	return starlark.Int{}, fmt.Errorf("a number is required, not %s", v.Type())
}

func formatInt(i starlark.Int, conv byte, spec numberSpec) string {
	n := i.BigInt()
	sign := signOf(n.Sign() < 0, spec.sign)
	abs := new(big.Int).Abs(n)
	var digits, prefix string
	switch conv {
	case 'b':
		digits, prefix = abs.Text(2), "0b"
	case 'o':
		digits, prefix = abs.Text(8), "0o"
	case 'x':
		digits, prefix = abs.Text(16), "0x"
	case 'X':
		digits, prefix = strings.ToUpper(abs.Text(16)), "0X"
	default:
		digits = group(abs.Text(10), spec.grouping)
	}
	if !spec.alternate {
		prefix = ""
	}
	return pad(digits, sign+prefix, spec)
}

func formatFloat(f float64, conv byte, spec numberSpec) string {
	sign := signOf(math.Signbit(f) && !math.IsNaN(f), spec.sign)
	abs := math.Abs(f)
	if math.IsInf(f, 0) || math.IsNaN(f) {
		s := "inf"
		if math.IsNaN(f) {
			s = "nan"
		}
		if conv == 'E' || conv == 'F' || conv == 'G' {
			s = strings.ToUpper(s)
		}
		spec.fill = ' '
		if spec.align == '=' {
			spec.align = '>'
		}
		return pad(s, sign, spec)
	}
	prec := spec.precision
	var s string
	switch conv {
	case 'e', 'E':
		if prec < 0 {
			prec = 6
		}
		s = strconv.FormatFloat(abs, 'e', prec, 64)
	case 'f', 'F':
		if prec < 0 {
			prec = 6
		}
		s = strconv.FormatFloat(abs, 'f', prec, 64)
	case '%':
		if prec < 0 {
			prec = 6
		}
		s = strconv.FormatFloat(abs*100, 'f', prec, 64) + "%"
	case 'g', 'G':
		if prec < 0 {
			prec = 6
		}
		s = formatG(abs, max(prec, 1), spec.alternate)
	default:
		s = formatG(abs, max(prec, 1), spec.alternate)
		if !strings.ContainsAny(s, ".e") {
			s += ".0"
		}
	}
	if conv == 'E' || conv == 'G' {
		s = strings.ToUpper(s)
	}
	return pad(groupNumber(s, spec.grouping), sign, spec)
}

func groupNumber(s string, sep byte) string {
	if i := strings.IndexAny(s, ".eE%"); i >= 0 {
		return group(s[:i], sep) + s[i:]
	}
	return group(s, sep)
}

// formatG matches Python's %g: scientific notation when the exponent is below
// -4 or at least the precision, trailing zeros removed unless alternate.
func formatG(f float64, prec int, alternate bool) string {
	exp := 0
	if f != 0 {
		e := strconv.FormatFloat(f, 'e', prec-1, 64)
		exp, _ = strconv.Atoi(e[strings.IndexByte(e, 'e')+1:])
	}
	var s string
	if exp < -4 || exp >= prec {
		s = strconv.FormatFloat(f, 'e', prec-1, 64)
		if !alternate {
			mantissa, exponent, _ := strings.Cut(s, "e")
			s = trimZeros(mantissa) + "e" + exponent
		}
		return s
	}
	s = strconv.FormatFloat(f, 'f', max(prec-1-exp, 0), 64)
	if !alternate {
		s = trimZeros(s)
	}
	return s
}

func trimZeros(s string) string {
	if !strings.Contains(s, ".") {
		return s
	}
	return strings.TrimSuffix(strings.TrimRight(s, "0"), ".")
}

func signOf(negative bool, sign byte) string {
	switch {
	case negative:
		return "-"
	case sign == '+':
		return "+"
	case sign == ' ':
		return " "
	}
	return ""
}

// group inserts the grouping character every three digits of a decimal
// integer string.
func group(digits string, sep byte) string {
	if sep == 0 || len(digits) <= 3 || !isDigits(digits) {
		return digits
	}
	var sb strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		sb.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if sb.Len() > 0 {
			sb.WriteByte(sep)
		}
		sb.WriteString(digits[i : i+3])
	}
	return sb.String()
}

func truncate(s string, precision int) string {
	if precision < 0 || utf8.RuneCountInString(s) <= precision {
		return s
	}
	return string([]rune(s)[:precision])
}

// pad aligns prefix+body to the spec width. The = alignment puts the fill
// between the prefix (sign and base) and the digits.
func pad(body, prefix string, spec numberSpec) string {
	fill := spec.fill
	if fill == 0 {
		fill = ' '
	}
	n := spec.width - utf8.RuneCountInString(prefix) - utf8.RuneCountInString(body)
	if n <= 0 {
		return prefix + body
	}
	padding := strings.Repeat(string(fill), n)
	switch spec.align {
	case '<':
		return prefix + body + padding
	case '^':
		left := strings.Repeat(string(fill), n/2)
		return left + prefix + body + strings.Repeat(string(fill), n-n/2)
	case '=':
		return prefix + padding + body
	}
	return padding + prefix + body
}
