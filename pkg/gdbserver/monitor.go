package gdbserver

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cosiner/argv"
	"github.com/derekparker/trie"
)

// monitorFunc implements one qRcmd command. It returns the ASCII text to
// hex-encode back to GDB as the qRcmd reply payload, or an error if the
// command could not be carried out.
type monitorFunc func(s *Session, args []string) (string, error)

// monitorTable is the fixed set of monitor commands this server accepts,
// held in a prefix trie purely so unknown-command detection and the
// help/help-hidden listings are table lookups rather than a chain of
// string comparisons.
type monitorTable struct {
	t      *trie.Trie
	hidden map[string]bool
}

// newMonitorTable builds the fixed command set plus any user-defined
// aliases from the config file's "aliases" map (existing command name ->
// one or more additional names it should also answer to).
func newMonitorTable(aliases map[string][]string) *monitorTable {
	mt := &monitorTable{t: trie.New(), hidden: map[string]bool{}}
	mt.register("swreset", false, cmdSwReset)
	mt.register("hwreset", false, cmdHwReset)
	mt.register("halt", false, cmdHalt)
	mt.register("run", false, cmdRun)
	mt.register("coreid", false, cmdCoreID)
	mt.register("help", false, cmdHelp)
	mt.register("help-hidden", false, cmdHelpHidden)
	mt.register("link", true, cmdHiddenUnimplemented)
	mt.register("spi", true, cmdHiddenUnimplemented)

	for canonical, names := range aliases {
		node, ok := mt.t.Find(canonical)
		if !ok {
			continue
		}
		fn := node.Meta().(monitorFunc)
		for _, alias := range names {
			mt.register(alias, mt.hidden[canonical], fn)
		}
	}
	return mt
}

func (mt *monitorTable) register(name string, hidden bool, fn monitorFunc) {
	mt.t.Add(name, fn)
	if hidden {
		mt.hidden[name] = true
	}
}

func (mt *monitorTable) names(includeHidden bool) []string {
	var out []string
	for _, k := range mt.t.Keys() {
		if !includeHidden && mt.hidden[k] {
			continue
		}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Dispatch tokenizes a decoded qRcmd payload with shell-style splitting
// and looks up the command name for an exact trie match. An unrecognized
// command is logged and acknowledged with a plain OK rather than an
// error, matching rspCommand's default reply in the original server.
func (mt *monitorTable) Dispatch(s *Session, line string) (string, error) {
	fields, err := argv.Argv(line, nil, nil)
	if err != nil || len(fields) == 0 || len(fields[0]) == 0 {
		return "", fmt.Errorf("empty monitor command")
	}
	words := fields[0]
	node, ok := mt.t.Find(words[0])
	if !ok {
		s.logCon.Debugf("unrecognized monitor command: %q", words[0])
		return "", nil
	}
	fn := node.Meta().(monitorFunc)
	return fn(s, words[1:])
}

func cmdSwReset(s *Session, args []string) (string, error) {
	if !s.control.SoftReset() {
		return "", fmt.Errorf("swreset failed")
	}
	return "mesh soft reset complete\n", nil
}

func cmdHwReset(s *Session, args []string) (string, error) {
	s.control.HardReset()
	return "mesh hard reset complete\n", nil
}

func cmdHalt(s *Session, args []string) (string, error) {
	if !s.control.Halt() {
		return "", fmt.Errorf("halt failed")
	}
	return "target halted\n", nil
}

func cmdRun(s *Session, args []string) (string, error) {
	s.control.Resume()
	return "target running\n", nil
}

func cmdCoreID(s *Session, args []string) (string, error) {
	return fmt.Sprintf("core id: %#x\n", s.execCore), nil
}

func cmdHelp(s *Session, args []string) (string, error) {
	return "monitor commands: " + strings.Join(s.monitors.names(false), ", ") + "\n", nil
}

func cmdHelpHidden(s *Session, args []string) (string, error) {
	return "monitor commands (including hidden): " + strings.Join(s.monitors.names(true), ", ") + "\n", nil
}

// cmdHiddenUnimplemented backs "link" and "spi", which the original
// server never actually implements: they exist only in its
// help-hidden listing and, if invoked, fall through to the same
// default OK every unrecognized command gets.
func cmdHiddenUnimplemented(s *Session, args []string) (string, error) {
	return "", nil
}
