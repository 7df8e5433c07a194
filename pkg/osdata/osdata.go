// Package osdata renders the qXfer:osdata:read: XML views GDB uses to
// show process, load, and mesh-traffic information alongside the raw
// register/memory view.
package osdata

import (
	"fmt"
	"math/rand"
	"strings"

	lru "github.com/hashicorp/golang-lru"

	"github.com/epiphany-tools/erspd/pkg/target"
)

// Annex names accepted by qXfer:osdata:read:<annex>:...
const (
	AnnexProcess = "process"
	AnnexLoad    = "load"
	AnnexTraffic = "traffic"
)

const cacheSize = 3 // one slot per annex is all this view set ever needs

// Renderer produces and caches the fixed XML documents for each annex,
// so a windowed read at nonzero offset never re-renders (matching how
// the original server holds one rendered string per view for the
// duration of a read sequence).
type Renderer struct {
	ctl   target.Control
	cache *lru.Cache
	rng   *rand.Rand
}

// New returns a renderer over a target's live core list. rngSeed lets
// tests get a deterministic traffic/load rendering.
func New(ctl target.Control, rngSeed int64) *Renderer {
	cache, _ := lru.New(cacheSize)
	return &Renderer{ctl: ctl, cache: cache, rng: rand.New(rand.NewSource(rngSeed))}
}

// Render returns the full XML document for an annex, using the cached
// copy unless offset is 0 (a fresh read sequence always re-renders).
func (r *Renderer) Render(annex string, offset uint32) (string, error) {
	if offset == 0 {
		doc, err := r.build(annex)
		if err != nil {
			return "", err
		}
		r.cache.Add(annex, doc)
		return doc, nil
	}
	if v, ok := r.cache.Get(annex); ok {
		return v.(string), nil
	}
	// A nonzero-offset request with nothing cached still needs content;
	// render it once and cache it as if it were the first chunk.
	doc, err := r.build(annex)
	if err != nil {
		return "", err
	}
	r.cache.Add(annex, doc)
	return doc, nil
}

func (r *Renderer) build(annex string) (string, error) {
	switch annex {
	case AnnexProcess:
		return r.buildProcess(), nil
	case AnnexLoad:
		return r.buildLoad(), nil
	case AnnexTraffic:
		return r.buildTraffic(), nil
	default:
		return "", fmt.Errorf("osdata: unknown annex %q", annex)
	}
}

const processPID = 1

func (r *Renderer) buildProcess() string {
	ids := r.ctl.ListCoreIDs()
	cores := make([]string, len(ids))
	for i, id := range ids {
		cores[i] = fmt.Sprintf("%d", id)
	}
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?>` + "\n")
	b.WriteString(`<!DOCTYPE osdata SYSTEM "osdata.dtd">` + "\n")
	b.WriteString(`<osdata type="processes">` + "\n")
	fmt.Fprintf(&b, "  <item>\n    <column name=\"pid\">%d</column>\n    <column name=\"cores\">%s</column>\n  </item>\n",
		processPID, strings.Join(cores, ","))
	b.WriteString(`</osdata>` + "\n")
	return b.String()
}

func (r *Renderer) buildLoad() string {
	ids := r.ctl.ListCoreIDs()
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?>` + "\n")
	b.WriteString(`<!DOCTYPE osdata SYSTEM "osdata.dtd">` + "\n")
	b.WriteString(`<osdata type="load">` + "\n")
	for _, id := range ids {
		fmt.Fprintf(&b, "  <item>\n    <column name=\"coreid\">%d</column>\n    <column name=\"load\">%d</column>\n  </item>\n",
			id, r.rng.Intn(100))
	}
	b.WriteString(`</osdata>` + "\n")
	return b.String()
}

// isEdgeCore reports whether a core sits on the mesh boundary, where the
// original server reports "--" instead of a synthetic traffic number
// for the directions that have no neighbor.
func isEdgeCore(id target.CoreID, rows, cols int) (north, south, east, west bool) {
	row, col := id.Row(), id.Col()
	return row == 0, row == rows-1, col == cols-1, col == 0
}

func (r *Renderer) buildTraffic() string {
	ids := r.ctl.ListCoreIDs()
	rows, cols := r.ctl.Rows(), r.ctl.Cols()
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?>` + "\n")
	b.WriteString(`<!DOCTYPE osdata SYSTEM "osdata.dtd">` + "\n")
	b.WriteString(`<osdata type="traffic">` + "\n")
	for _, id := range ids {
		noN, noS, noE, noW := isEdgeCore(id, rows, cols)
		col := func(name string, edge bool) string {
			if edge {
				return "--"
			}
			return fmt.Sprintf("%d", r.rng.Intn(1000))
		}
		fmt.Fprintf(&b, "  <item>\n"+
			"    <column name=\"coreid\">%d</column>\n"+
			"    <column name=\"n_in\">%s</column>\n"+
			"    <column name=\"n_out\">%s</column>\n"+
			"    <column name=\"s_in\">%s</column>\n"+
			"    <column name=\"s_out\">%s</column>\n"+
			"    <column name=\"e_in\">%s</column>\n"+
			"    <column name=\"e_out\">%s</column>\n"+
			"    <column name=\"w_in\">%s</column>\n"+
			"    <column name=\"w_out\">%s</column>\n"+
			"  </item>\n",
			id,
			col("n_in", noN), col("n_out", noN),
			col("s_in", noS), col("s_out", noS),
			col("e_in", noE), col("e_out", noE),
			col("w_in", noW), col("w_out", noW))
	}
	b.WriteString(`</osdata>` + "\n")
	return b.String()
}

// Window slices a rendered document for one qXfer read, returning the
// GDB-convention prefix ('m' for more data, 'l' for the last chunk).
func Window(doc string, offset, length uint32) string {
	if int(offset) >= len(doc) {
		return "l"
	}
	end := int(offset) + int(length)
	last := false
	if end >= len(doc) {
		end = len(doc)
		last = true
	}
	prefix := "m"
	if last {
		prefix = "l"
	}
	return prefix + doc[offset:end]
}
