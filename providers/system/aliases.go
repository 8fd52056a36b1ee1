package system

import (
	"bytes"
	"slices"
	"sort"
	"strings"

	"github.com/picklr-io/sysconverge/internal/ir"
)

// aliasBlock is one logical line of an aliases file: an entry with its
// continuation lines, or a comment or blank line kept verbatim.
type aliasBlock struct {
	name  string // empty for non-entry lines
	lines []string
}

func splitAliasBlocks(data []byte) []*aliasBlock {
	text := strings.TrimSuffix(string(data), "\n")
	if text == "" {
		return nil
	}

	var blocks []*aliasBlock
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		continuation := line != "" && (line[0] == ' ' || line[0] == '\t')

		if continuation && trimmed != "" && !strings.HasPrefix(trimmed, "#") && len(blocks) > 0 && blocks[len(blocks)-1].name != "" {
			last := blocks[len(blocks)-1]
			last.lines = append(last.lines, line)
			continue
		}

		block := &aliasBlock{lines: []string{line}}
		if trimmed != "" && !strings.HasPrefix(trimmed, "#") {
			if name, _, ok := strings.Cut(trimmed, ":"); ok {
				block.name = strings.TrimSpace(name)
			}
		}
		blocks = append(blocks, block)
	}
	return blocks
}

func (b *aliasBlock) recipients() []string {
	joined := strings.Join(b.lines, " ")
	_, rest, _ := strings.Cut(joined, ":")

	var out []string
	seen := make(map[string]bool)
	for _, r := range strings.Split(rest, ",") {
		r = strings.TrimSpace(r)
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}

// ParseAliases reads an aliases(5) file. Repeated names are merged in file
// order.
func ParseAliases(data []byte) ir.AliasState {
	state := make(ir.AliasState)
	for _, b := range splitAliasBlocks(data) {
		if b.name == "" {
			continue
		}
		for _, r := range b.recipients() {
			if !slices.Contains(state[b.name], r) {
				state[b.name] = append(state[b.name], r)
			}
		}
	}
	return state
}

// RenderAliases applies updates to an aliases file. Updated entries are
// rewritten in place, entries with no recipients are dropped, and new
// entries are appended in name order. Comments and untouched entries are
// preserved byte for byte.
func RenderAliases(data []byte, updates ir.AliasState) []byte {
	written := make(map[string]bool, len(updates))

	var buf bytes.Buffer
	for _, b := range splitAliasBlocks(data) {
		recipients, updated := updates[b.name]
		if b.name == "" || !updated {
			for _, line := range b.lines {
				buf.WriteString(line)
				buf.WriteByte('\n')
			}
			continue
		}
		if written[b.name] || len(recipients) == 0 {
			written[b.name] = true
			continue
		}
		writeAliasEntry(&buf, b.name, recipients)
		written[b.name] = true
	}

	names := make([]string, 0, len(updates))
	for name := range updates {
		if !written[name] && len(updates[name]) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		writeAliasEntry(&buf, name, updates[name])
	}
	return buf.Bytes()
}

func writeAliasEntry(buf *bytes.Buffer, name string, recipients []string) {
	buf.WriteString(name)
	buf.WriteString(": ")
	buf.WriteString(strings.Join(recipients, ", "))
	buf.WriteByte('\n')
}
