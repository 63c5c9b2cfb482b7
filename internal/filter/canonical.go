package filter

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/valter-silva-au/taskview/pkg/models"
)

// fingerprintDomain separates filter fingerprints from any other hash
// computed over the same bytes.
const fingerprintDomain = "taskview/filter/v1"

// canonicalize renders root and spec in the canonical form. Two expressions
// with the same canonical form select and order the same records.
func canonicalize(root Node, spec SortSpec) string {
	var b strings.Builder
	root.writeCanonical(&b)
	b.WriteString(" | sort:")
	b.WriteString(string(spec.Field))
	b.WriteByte(':')
	b.WriteString(string(spec.Direction))
	return b.String()
}

// fingerprint returns hex(sha256(domain || 0x00 || canonical)).
func fingerprint(canonical string) string {
	h := sha256.New()
	h.Write([]byte(fingerprintDomain))
	h.Write([]byte{0})
	h.Write([]byte(canonical))
	return hex.EncodeToString(h.Sum(nil))
}

// foldText normalizes s for case-insensitive comparison.
func foldText(s string) string {
	return cases.Fold().String(norm.NFC.String(s))
}

func writeList(b *strings.Builder, head string, terms []Node) {
	b.WriteByte('(')
	b.WriteString(head)
	for _, t := range terms {
		b.WriteByte(' ')
		t.writeCanonical(b)
	}
	b.WriteByte(')')
}

func writePred(b *strings.Builder, field string, op Op, value string) {
	b.WriteString(field)
	b.WriteString(string(op))
	b.WriteString(strconv.Quote(value))
}

func (MatchAll) writeCanonical(b *strings.Builder) { b.WriteByte('*') }

func (n And) writeCanonical(b *strings.Builder) { writeList(b, "and", n.Terms) }

func (n Or) writeCanonical(b *strings.Builder) { writeList(b, "or", n.Terms) }

func (n Not) writeCanonical(b *strings.Builder) {
	b.WriteString("(not ")
	n.Term.writeCanonical(b)
	b.WriteByte(')')
}

func (n StatusPred) writeCanonical(b *strings.Builder) {
	v := strings.ToLower(n.Value)
	if st, ok := models.ParseStatus(n.Value); ok {
		v = string(st)
	}
	writePred(b, "status", OpEq, v)
}

func (n ProjectPred) writeCanonical(b *strings.Builder) {
	writePred(b, "project", OpEq, n.Value)
}

func (n PriorityPred) writeCanonical(b *strings.Builder) {
	v := n.Value
	if p, ok := models.ParsePriority(n.Value); ok {
		v = p.String()
	}
	writePred(b, "priority", OpEq, v)
}

func (n TagPred) writeCanonical(b *strings.Builder) {
	writePred(b, "tag", OpEq, n.Value)
}

func (n UrgencyPred) writeCanonical(b *strings.Builder) {
	v := n.Value
	if f, err := strconv.ParseFloat(n.Value, 64); err == nil {
		v = strconv.FormatFloat(f, 'g', -1, 64)
	}
	writePred(b, "urgency", n.Op, v)
}

func (n DatePred) writeCanonical(b *strings.Builder) {
	writePred(b, n.Field, n.Op, strings.ToLower(n.Value))
}

func (n TextPred) writeCanonical(b *strings.Builder) {
	writePred(b, "description", OpEq, foldText(n.Value))
}

func (n BoolPred) writeCanonical(b *strings.Builder) {
	v := strings.ToLower(n.Value)
	if bv, ok := parseBool(n.Value); ok {
		v = strconv.FormatBool(bv)
	}
	writePred(b, n.Field, OpEq, v)
}

// Canonical returns the canonical serialization of a single node.
func Canonical(n Node) string {
	var b strings.Builder
	n.writeCanonical(&b)
	return b.String()
}
