// Package packsize parses vendor pack/size descriptions such as "6/#10 CAN",
// "4x1GAL", or "case of 24 x 16oz" into normalized quantities.
package packsize

import (
	"regexp"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/kitchen-cli/internal/units"
)

// Confidence grades how reliably a pack description was understood.
type Confidence string

const (
	// High means the whole text matched a known pattern.
	High Confidence = "HIGH"
	// Medium means a pattern was found inside surrounding text.
	Medium Confidence = "MEDIUM"
	// Low means no quantity could be derived; UnitQty is nil.
	Low Confidence = "LOW"
)

// PackSpec is the normalized form of a pack description.
type PackSpec struct {
	Raw        string     `json:"raw"`
	PackCount  int        `json:"pack_count"`
	UnitQty    *float64   `json:"unit_qty,omitempty"`
	UnitUOM    units.Unit `json:"unit_uom,omitempty"`
	Confidence Confidence `json:"confidence"`
}

// Parsed reports whether the pack carries usable unit fields.
func (p PackSpec) Parsed() bool {
	return p.UnitQty != nil && p.UnitUOM != "" && p.PackCount > 0
}

// CaseTotal returns pack_count × unit_qty expressed in the costing base unit
// of the pack's dimension (oz, fl_oz, or each).
func (p PackSpec) CaseTotal() (float64, units.Dimension, error) {
	if !p.Parsed() {
		return 0, "", eris.Errorf("packsize: %q has no unit quantity", p.Raw)
	}
	perUnit, dim, err := units.ToBase(*p.UnitQty, p.UnitUOM)
	if err != nil {
		return 0, "", err
	}
	return float64(p.PackCount) * perUnit, dim, nil
}

const qtyPattern = `(\d+\s+\d+/\d+|\d+-\d+/\d+|\d+/\d+|\d*\.\d+|\d+)`

var (
	leadingNoise = regexp.MustCompile(`^(?:case\s+of|cs\s+of|pack\s+of|pk\s+of|case|cs)\s+`)
	canRe        = regexp.MustCompile(`^(?:(\d+)\s*[/x]\s*)?(?:#|no\.?\s*)\s*(\d+(?:\.5|\s+1/2)?)\s*(?:cans?|cn|tins?)?\b\s*(.*)$`)
	canSearch    = regexp.MustCompile(`(?:(\d+)\s*[/x]\s*)?#\s*(\d+(?:\.5)?)\s*(?:cans?|cn|tins?)\b`)
	packRe       = regexp.MustCompile(`^(\d+)\s*(?:/|x)\s*` + qtyPattern + `\s*(.+)$`)
	singleRe     = regexp.MustCompile(`^` + qtyPattern + `\s*(.+)$`)
	packSearch   = regexp.MustCompile(`(\d+)\s*(?:/|x)\s*` + qtyPattern + `\s*([a-z#][a-z.#]*(?:\s+[a-z.]+)?)`)
	singleSearch = regexp.MustCompile(qtyPattern + `\s*([a-z#][a-z.#]*(?:\s+[a-z.]+)?)`)
)

// packagingWords may trail a unit without lowering confidence.
var packagingWords = map[string]bool{
	"avg": true, "average": true, "pk": true, "pack": true, "bag": true, "bags": true,
	"btl": true, "bottle": true, "bottles": true, "jar": true, "jars": true, "tub": true,
	"box": true, "bx": true, "can": true, "cans": true, "cn": true, "ctn": true, "carton": true,
	"case": true, "cs": true, "jug": true, "jugs": true, "pail": true, "bulk": true, "cont": true,
	"container": true, "pkg": true, "sleeve": true, "tray": true,
}

// Parse converts free-text pack descriptions into a PackSpec. Unparseable
// input never fails; it yields Confidence Low with a nil UnitQty.
func Parse(raw string) PackSpec {
	spec := PackSpec{Raw: raw, Confidence: Low}
	s := normalize(raw)
	if s == "" {
		return spec
	}

	if ps, ok := parseCan(s); ok {
		ps.Raw = raw
		return ps
	}
	if ps, ok := parseAnchored(s); ok {
		ps.Raw = raw
		return ps
	}
	if ps, ok := parseSearch(s); ok {
		ps.Raw = raw
		return ps
	}
	return spec
}

func normalize(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, "×", "x")
	s = strings.Join(strings.Fields(s), " ")
	s = leadingNoise.ReplaceAllString(s, "")
	return s
}

func parseCan(s string) (PackSpec, bool) {
	conf := High
	m := canRe.FindStringSubmatch(s)
	if m != nil {
		if rest := strings.TrimSpace(m[3]); rest != "" && !allPackaging(strings.Fields(rest)) {
			conf = Medium
		}
	} else {
		m = canSearch.FindStringSubmatch(s)
		if m == nil {
			return PackSpec{}, false
		}
		conf = Medium
	}
	flOz, ok := CanSize(m[2])
	if !ok {
		return PackSpec{}, false
	}
	pack := 1
	if m[1] != "" {
		n, ok := parseCount(m[1])
		if !ok {
			return PackSpec{}, false
		}
		pack = n
	}
	return PackSpec{PackCount: pack, UnitQty: &flOz, UnitUOM: units.FluidOunce, Confidence: conf}, true
}

func parseAnchored(s string) (PackSpec, bool) {
	if m := packRe.FindStringSubmatch(s); m != nil {
		if ps, ok := build(m[1], m[2], m[3], High); ok {
			return ps, true
		}
	}
	if m := singleRe.FindStringSubmatch(s); m != nil {
		if ps, ok := build("1", m[1], m[2], High); ok {
			return ps, true
		}
	}
	return PackSpec{}, false
}

func parseSearch(s string) (PackSpec, bool) {
	for _, m := range packSearch.FindAllStringSubmatch(s, -1) {
		if ps, ok := build(m[1], m[2], m[3], Medium); ok {
			return ps, true
		}
	}
	for _, m := range singleSearch.FindAllStringSubmatch(s, -1) {
		if ps, ok := build("1", m[1], m[2], Medium); ok {
			return ps, true
		}
	}
	return PackSpec{}, false
}

// build assembles a PackSpec when the unit text resolves; trailing words
// other than packaging terms downgrade confidence to Medium.
func build(countText, qtyText, unitText string, conf Confidence) (PackSpec, bool) {
	pack, ok := parseCount(countText)
	if !ok {
		return PackSpec{}, false
	}
	qty, ok := ParseQuantity(qtyText)
	if !ok {
		return PackSpec{}, false
	}
	u, rest, ok := splitUnit(unitText)
	if !ok {
		return PackSpec{}, false
	}
	if len(rest) > 0 && !allPackaging(rest) {
		conf = Medium
	}
	return PackSpec{PackCount: pack, UnitQty: &qty, UnitUOM: u, Confidence: conf}, true
}

// splitUnit finds the longest leading run of up to three words that names a
// unit and returns the remaining words.
func splitUnit(text string) (units.Unit, []string, bool) {
	words := strings.Fields(text)
	for n := min(3, len(words)); n >= 1; n-- {
		if u, err := units.Parse(strings.Join(words[:n], " ")); err == nil {
			return u, words[n:], true
		}
	}
	if len(words) == 0 {
		return "", nil, false
	}
	// "lb," or "oz)"
	first := strings.TrimRight(words[0], ",;:)")
	if u, err := units.Parse(first); err == nil {
		return u, words[1:], true
	}
	return "", nil, false
}

func allPackaging(words []string) bool {
	for _, w := range words {
		if !packagingWords[strings.Trim(w, ".,;:()")] {
			return false
		}
	}
	return true
}
