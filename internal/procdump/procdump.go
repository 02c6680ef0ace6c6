package procdump

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// minLineLen is the shortest marker line that can carry a dump.
const minLineLen = 40

var (
	statusPath  = regexp.MustCompile(`^/proc/([0-9]+)/status`)
	cmdlinePath = regexp.MustCompile(`^/proc/([0-9]+)/cmdline`)
	uidLine     = regexp.MustCompile(`^Uid:\t+([0-9]+)`)
)

// ErrEmpty is returned for a marker without a payload.
var ErrEmpty = errors.New("procdump: empty payload")

// Inventory accumulates the user processes seen in procdump markers,
// grouped by uid.
type Inventory struct {
	filter *Filter
	byUID  map[string]map[string]struct{}
}

// NewInventory returns an Inventory using filter, or DefaultFilter when nil.
func NewInventory(filter *Filter) *Inventory {
	if filter == nil {
		filter = DefaultFilter()
	}
	return &Inventory{
		filter: filter,
		byUID:  make(map[string]map[string]struct{}),
	}
}

// Parse decodes one procdump marker line ("% procdump <base64 gzip>").
// Short lines are ignored.
func (inv *Inventory) Parse(line string) error {
	if len(line) < minLineLen {
		return nil
	}
	payload := strings.TrimSpace(line)
	payload = strings.TrimLeft(payload, "%^ ")
	payload = strings.TrimSpace(strings.TrimPrefix(payload, "procdump"))
	if payload == "" {
		return ErrEmpty
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return fmt.Errorf("procdump: base64: %w", err)
	}
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("procdump: gzip: %w", err)
	}
	defer zr.Close()

	procs, uids, err := scanDump(zr)
	if err != nil {
		return err
	}

	for uid, pids := range uids {
		for _, pid := range pids {
			name, ok := procs[pid]
			if !ok || inv.blocked(name) {
				continue
			}
			set, ok := inv.byUID[uid]
			if !ok {
				set = make(map[string]struct{})
				inv.byUID[uid] = set
			}
			set[name] = struct{}{}
		}
	}
	return nil
}

type dumpState int

const (
	stateStart dumpState = iota
	stateStatusLen
	stateStatusName
	stateUIDSearch
	stateCmdlineLen
	stateCmdlineName
)

// scanDump walks the concatenated /proc/<pid>/{status,cmdline} dump. Every
// file is introduced by its path and a length line.
func scanDump(r io.Reader) (map[string]string, map[string][]string, error) {
	procs := make(map[string]string)
	uids := make(map[string][]string)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	state := stateStart
	pid := ""
	for sc.Scan() {
		line := sc.Text()
		switch state {
		case stateStart:
			if m := statusPath.FindStringSubmatch(line); m != nil {
				pid, state = m[1], stateStatusLen
			} else if m := cmdlinePath.FindStringSubmatch(line); m != nil {
				pid, state = m[1], stateCmdlineLen
			}
		case stateStatusLen:
			state = stateStatusName
		case stateStatusName:
			if _, ok := procs[pid]; !ok {
				if f := strings.Fields(line); len(f) > 1 {
					procs[pid] = f[1]
				}
			}
			state = stateUIDSearch
		case stateUIDSearch:
			if strings.HasPrefix(line, "Uid:") {
				if m := uidLine.FindStringSubmatch(line); m != nil {
					uids[m[1]] = append(uids[m[1]], pid)
				}
				state = stateStart
			}
		case stateCmdlineLen:
			state = stateCmdlineName
		case stateCmdlineName:
			if cmd := strings.TrimRight(strings.ReplaceAll(line, "\x00", " "), " \t"); cmd != "" {
				procs[pid] = cmd
			}
			state = stateStart
		}
	}
	if err := sc.Err(); err != nil {
		return nil, nil, fmt.Errorf("procdump: scan: %w", err)
	}
	return procs, uids, nil
}

func (inv *Inventory) blocked(cmdline string) bool {
	cmd, ok := Command(cmdline)
	if !ok {
		return true
	}
	return inv.filter.Blocked(cmd)
}

// UIDs returns the uids with at least one recorded process, sorted.
func (inv *Inventory) UIDs() []string {
	out := make([]string, 0, len(inv.byUID))
	for uid := range inv.byUID {
		out = append(out, uid)
	}
	sort.Strings(out)
	return out
}

// Commands returns the distinct commands run by uid, or by every uid when
// uid is empty. The result is sorted.
func (inv *Inventory) Commands(uid string) []string {
	seen := make(map[string]struct{})
	add := func(set map[string]struct{}) {
		for cmdline := range set {
			if cmd, ok := Command(cmdline); ok {
				seen[cmd] = struct{}{}
			}
		}
	}
	if uid != "" {
		add(inv.byUID[uid])
	} else {
		for _, set := range inv.byUID {
			add(set)
		}
	}
	out := make([]string, 0, len(seen))
	for cmd := range seen {
		out = append(out, cmd)
	}
	sort.Strings(out)
	return out
}

// Len reports the number of distinct command lines recorded.
func (inv *Inventory) Len() int {
	n := 0
	for _, set := range inv.byUID {
		n += len(set)
	}
	return n
}
