package vm

import (
	"fmt"
	"strconv"
	"strings"
)

// format implements the "str <fmt> %X" directive language: "%[r]SPEC"
// substitutes register r's contents under a C-style printf verb (s, d,
// i, o, u, x, X), "%T" substitutes the current topic, and "%%" is a
// literal percent.
func (v *VM) format(tmpl string) string {
	var out strings.Builder
	i, n := 0, len(tmpl)
	for i < n {
		c := tmpl[i]
		if c != '%' {
			out.WriteByte(c)
			i++
			continue
		}
		if i+1 >= n {
			out.WriteByte('%')
			break
		}
		switch tmpl[i+1] {
		case '%':
			out.WriteByte('%')
			i += 2
			continue
		case 'T':
			out.WriteString(v.topic)
			i += 2
			continue
		}
		reg, verb, consumed, ok := parseDirective(tmpl[i+1:])
		if !ok {
			out.WriteByte('%')
			i++
			continue
		}
		out.WriteString(v.renderDirective(reg, verb))
		i += 1 + consumed
	}
	return out.String()
}

// parseDirective reads "[r]SPEC" immediately after a '%'. reg is a
// single-letter register name (a..p); verb is one of s,d,i,o,u,x,X.
func parseDirective(s string) (reg byte, verb byte, consumed int, ok bool) {
	if len(s) < 2 || s[0] < 'a' || s[0] > 'p' {
		return 0, 0, 0, false
	}
	switch s[1] {
	case 's', 'd', 'i', 'o', 'u', 'x', 'X':
		return s[0], s[1], 2, true
	}
	return 0, 0, 0, false
}

func (v *VM) renderDirective(reg byte, verb byte) string {
	val := v.regs[reg-'a']
	switch verb {
	case 's':
		return v.resolveAddress(val)
	case 'd', 'i':
		return strconv.FormatInt(int64(int32(val)), 10)
	case 'o':
		return strconv.FormatUint(uint64(val), 8)
	case 'u':
		return strconv.FormatUint(uint64(val), 10)
	case 'x':
		return strconv.FormatUint(uint64(val), 16)
	case 'X':
		return strings.ToUpper(strconv.FormatUint(uint64(val), 16))
	}
	return ""
}

func (v *VM) dump() {
	fmt.Fprintf(v.Stdout, "pc=%d acc=%d tryc=%d topic=%q\n", v.pc, v.acc, v.tryc, v.topic)
	for i, r := range v.regs {
		fmt.Fprintf(v.Stdout, "  %%%c = %d (0x%08x)\n", 'a'+i, r, r)
	}
	fmt.Fprintf(v.Stdout, "  dstack depth=%d istack depth=%d tstack depth=%d rstack depth=%d\n",
		v.dstack.len(), v.istack.len(), v.tstack.len(), v.rstack.len())
}
