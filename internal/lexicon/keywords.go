package lexicon

import (
	"sort"
	"strings"
)

// businessKeywords maps a business type to terms that indicate a genuine
// mention of an entity operating in that sector.
var businessKeywords = map[string][]string{
	"automotive": {
		"automotive", "vehicle", "vehicles", "car", "cars", "electric", "ev", "charging",
		"battery", "batteries", "sedan", "suv", "dealership", "fleet", "motor", "mobility",
	},
	"telecommunications": {
		"telecom", "telecommunications", "network", "networks", "5g", "4g", "lte", "wireless",
		"broadband", "carrier", "antenna", "base station", "spectrum", "router", "switches",
	},
	"technology": {
		"software", "hardware", "cloud", "platform", "semiconductor", "chip", "chips", "server",
		"servers", "data center", "saas", "device", "devices", "it services",
	},
	"energy": {
		"energy", "power", "oil", "gas", "solar", "wind", "turbine", "grid", "utility",
		"pipeline", "refinery", "electricity", "renewable",
	},
	"finance": {
		"bank", "banking", "loan", "loans", "credit", "investment", "fund", "asset management",
		"insurance", "brokerage", "payments", "securities",
	},
	"pharmaceutical": {
		"pharmaceutical", "pharma", "drug", "drugs", "vaccine", "clinical", "trial", "medicine",
		"biotech", "therapeutics", "hospital", "medical",
	},
	"construction": {
		"construction", "contractor", "infrastructure", "building", "engineering", "cement",
		"concrete", "bridge", "tunnel", "railway", "works",
	},
	"logistics": {
		"logistics", "shipping", "freight", "cargo", "warehouse", "courier", "delivery",
		"port", "container", "transport", "supply chain",
	},
	"retail": {
		"retail", "store", "stores", "ecommerce", "e-commerce", "shop", "consumer", "brand",
		"merchandise", "marketplace",
	},
}

// legalIndicators are business and legal terms that suggest a company name
// is being referenced rather than an ordinary word.
var legalIndicators = []string{
	"company", "companies", "corporation", "corp", "inc", "incorporated", "ltd", "limited",
	"llc", "plc", "gmbh", "ag", "sa", "spa", "srl", "bv", "nv", "holdings", "group",
	"subsidiary", "supplier", "suppliers", "vendor", "contract", "contractor", "contracts",
	"procurement", "tender", "agreement", "award", "awarded", "purchase", "order",
	"partner", "shares", "stock", "listed", "manufacturer",
}

// BusinessKeywords returns the keyword list for businessType. Unknown or
// empty business types fall back to the legal indicator terms.
func BusinessKeywords(businessType string) []string {
	if kw, ok := businessKeywords[Fold(businessType)]; ok {
		return kw
	}
	return legalIndicators
}

// BusinessTypes returns the business types that carry a dedicated keyword
// table, sorted.
func BusinessTypes() []string {
	out := make([]string, 0, len(businessKeywords))
	for k := range businessKeywords {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// LegalIndicators returns the legal and commercial indicator terms.
func LegalIndicators() []string {
	return legalIndicators
}

// CountKeywords counts the distinct keywords that appear in text as whole
// words. Multi-word keywords match as phrases.
func CountKeywords(text string, keywords []string) int {
	if len(keywords) == 0 || IsBlank(text) {
		return 0
	}
	tokens := make(map[string]struct{})
	for _, tok := range Tokens(text) {
		tokens[tok] = struct{}{}
	}

	seen := make(map[string]struct{}, len(keywords))
	for _, kw := range keywords {
		folded := Fold(kw)
		if folded == "" {
			continue
		}
		if _, dup := seen[folded]; dup {
			continue
		}
		if containsWord(text, tokens, kw) {
			seen[folded] = struct{}{}
		}
	}
	return len(seen)
}

// HasKeyword reports whether any keyword appears in text as a whole word.
func HasKeyword(text string, keywords []string) bool {
	return CountKeywords(text, keywords) > 0
}

func containsWord(text string, tokens map[string]struct{}, kw string) bool {
	if !strings.ContainsFunc(kw, func(r rune) bool { return !IsWordRune(r) }) {
		_, ok := tokens[Fold(kw)]
		return ok
	}
	normalized := NFC(text)
	for _, occ := range FindAll(normalized, kw) {
		if AtBoundary(normalized, occ.Start, occ.End) {
			return true
		}
	}
	return false
}
