package tree

import (
	"strings"

	"github.com/terra-clan/treetest-engine/internal/apperr"
	"github.com/terra-clan/treetest-engine/internal/models"
)

// notationLine is one non-blank line of the notation after parsing
type notationLine struct {
	number int
	level  int
	label  string
}

// draft is a node under construction; links are stamped after all lines are read
type draft struct {
	name     string
	line     int
	children []*draft
}

// Compile parses tree notation and returns the ordered forest of nodes.
//
// One node per line; the number of leading commas is the depth. A label may
// be wrapped in double quotes to keep commas or surrounding whitespace, with
// "" standing for a literal quote. Blank lines are ignored. Any malformed line
// aborts the whole compile with a positional error.
func Compile(notation string) ([]models.TreeNode, error) {
	lines, err := parseNotation(notation)
	if err != nil {
		return nil, err
	}

	if len(lines) == 0 {
		return nil, apperr.Validation("tree structure cannot be empty")
	}

	roots := buildForest(lines)

	seen := make(map[string]int)
	forest := make([]models.TreeNode, 0, len(roots))
	for _, root := range roots {
		node, err := stamp(root, nil, seen)
		if err != nil {
			return nil, err
		}
		forest = append(forest, node)
	}

	return forest, nil
}

// parseNotation validates every line and returns the non-blank ones
func parseNotation(notation string) ([]notationLine, error) {
	var lines []notationLine
	previousLevel := -1

	for i, raw := range strings.Split(notation, "\n") {
		number := i + 1
		raw = strings.TrimRight(raw, "\r")

		if strings.TrimSpace(raw) == "" {
			continue
		}

		level, label, err := parseLine(raw, number)
		if err != nil {
			return nil, err
		}

		if level > previousLevel+1 {
			if previousLevel < 0 {
				return nil, apperr.Compile(number, "Skipped level: the first node must be at the top level (no leading commas)")
			}
			return nil, apperr.Compile(number, "Skipped level (depth %d follows depth %d); the node has no parent", level, previousLevel)
		}

		lines = append(lines, notationLine{number: number, level: level, label: label})
		previousLevel = level
	}

	return lines, nil
}

// parseLine splits a single line into its depth and label
func parseLine(raw string, number int) (int, string, error) {
	content := strings.TrimLeft(raw, " \t")

	if strings.HasSuffix(strings.TrimRight(content, " \t"), ",") {
		return 0, "", apperr.Compile(number, "Extra comma(s) at end of line")
	}

	level := 0
	for level < len(content) && content[level] == ',' {
		level++
	}
	rest := strings.TrimLeft(content[level:], " \t")

	var label string
	if strings.HasPrefix(rest, `"`) {
		quoted, tail, ok := readQuoted(rest[1:])
		if !ok {
			return 0, "", apperr.Compile(number, "Unterminated quoted label")
		}
		if strings.TrimSpace(tail) != "" {
			return 0, "", apperr.Compile(number, "Unexpected text after closing quote: %q", strings.TrimSpace(tail))
		}
		label = quoted
	} else {
		label = strings.TrimSpace(rest)
		if strings.Contains(label, ",") {
			return 0, "", apperr.Compile(number, "Unquoted label contains a comma; wrap it in double quotes")
		}
	}

	if strings.TrimSpace(label) == "" {
		return 0, "", apperr.Compile(number, "Empty label")
	}
	if Canonicalize(label) == "" {
		return 0, "", apperr.Compile(number, "Label has no addressable characters")
	}

	return level, label, nil
}

// readQuoted consumes a quoted label body (after the opening quote).
// It returns the unescaped label, the text after the closing quote and
// whether a closing quote was found.
func readQuoted(s string) (string, string, bool) {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '"' {
			b.WriteByte(s[i])
			continue
		}
		if i+1 < len(s) && s[i+1] == '"' {
			b.WriteByte('"')
			i++
			continue
		}
		return b.String(), s[i+1:], true
	}
	return "", "", false
}

// buildForest attaches every line to its nearest open ancestor
func buildForest(lines []notationLine) []*draft {
	type open struct {
		level int
		node  *draft
	}

	var roots []*draft
	var stack []open

	for _, l := range lines {
		for len(stack) > 0 && stack[len(stack)-1].level >= l.level {
			stack = stack[:len(stack)-1]
		}

		node := &draft{name: l.label, line: l.number}
		if len(stack) == 0 {
			roots = append(roots, node)
		} else {
			parent := stack[len(stack)-1].node
			parent.children = append(parent.children, node)
		}

		stack = append(stack, open{level: l.level, node: node})
	}

	return roots
}

// stamp converts a draft subtree into TreeNodes, assigning links to leaves.
// seen maps every full path to the line that produced it.
func stamp(d *draft, parentSegments []string, seen map[string]int) (models.TreeNode, error) {
	segments := make([]string, len(parentSegments), len(parentSegments)+1)
	copy(segments, parentSegments)
	segments = append(segments, Canonicalize(d.name))

	path := JoinPath(segments...)
	if line, dup := seen[path]; dup {
		return models.TreeNode{}, apperr.Compile(d.line, "Duplicate path %s (also on line %d)", path, line)
	}
	seen[path] = d.line

	node := models.TreeNode{Name: d.name}
	if len(d.children) == 0 {
		node.Link = path
		return node, nil
	}

	node.Children = make([]models.TreeNode, 0, len(d.children))
	for _, child := range d.children {
		c, err := stamp(child, segments, seen)
		if err != nil {
			return models.TreeNode{}, err
		}
		node.Children = append(node.Children, c)
	}

	return node, nil
}

// CountLeaves returns the number of leaves in a forest
func CountLeaves(forest []models.TreeNode) int {
	count := 0
	for i := range forest {
		if forest[i].IsLeaf() {
			count++
			continue
		}
		count += CountLeaves(forest[i].Children)
	}
	return count
}
