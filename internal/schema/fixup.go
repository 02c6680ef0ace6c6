package schema

import "strings"

// Several collector releases declared the wrong width or event flag for a
// handful of types. The table below rewrites those declarations before they
// are parsed. It is built at init and never modified afterwards.

const width32 = ",W=32"

type tokenFixup func(tok string) string

var (
	sched64 = setOf("running_time,E,U=ms", "waiting_time,E,U=ms", "pcount,E")
	block32 = setOf("rd_ticks,E,U=ms", "wr_ticks,E,U=ms", "in_flight", "io_ticks,E,U=ms", "time_in_queue,E,U=ms")
)

var fixups = map[string]tokenFixup{
	"irq": func(tok string) string { return tok + width32 },
	"sched": func(tok string) string {
		if sched64[tok] {
			return tok
		}
		return tok + width32
	},
	"block": func(tok string) string {
		if block32[tok] {
			return tok + width32
		}
		return tok
	},
	"panfs": func(tok string) string {
		if strings.HasPrefix(tok, "syscall_") &&
			(strings.HasSuffix(tok, "_s,E,U=s") || strings.HasSuffix(tok, "_ns,E,U=ns")) {
			return strings.Replace(tok, "E,", "", 1)
		}
		return tok
	},
	"ib": func(tok string) string {
		if strings.HasSuffix(tok, width32) {
			return tok
		}
		return tok + width32
	},
}

// Fixup returns the normalized description for typeName. Types without a
// known correction only have their whitespace normalized. Control fields are
// never rewritten.
func Fixup(typeName, desc string) string {
	tokens := strings.Fields(desc)
	fix, ok := fixups[typeName]
	if ok {
		for i, tok := range tokens {
			if isControl(tok) {
				continue
			}
			tokens[i] = fix(tok)
		}
	}
	return strings.Join(tokens, " ")
}

func isControl(tok string) bool {
	for _, opt := range strings.Split(tok, ",")[1:] {
		if opt != "" && opt[0] == 'C' {
			return true
		}
	}
	return false
}

func setOf(items ...string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, it := range items {
		m[it] = true
	}
	return m
}
