package lexicon

import (
	"regexp"
	"strings"
)

// legalSuffixes lists common legal entity suffixes to strip from display
// names before they are used as search terms.
var legalSuffixes = []string{
	" LLC", " L.L.C.", " L.L.C",
	" INC", " INC.", " INCORPORATED",
	" CORP", " CORP.", " CORPORATION",
	" LTD", " LTD.", " LIMITED",
	" LP", " L.P.", " L.P",
	" LLP", " L.L.P.", " L.L.P",
	" PLC", " P.L.C.",
	" CO", " CO.",
	" GMBH", " AG", " SE",
	" S.A.", " SA", " S.P.A.", " SPA", " S.R.L.", " SRL",
	" B.V.", " BV", " N.V.", " NV",
	" AB", " OYJ", " ASA", " K.K.", " PTY LTD",
	" HOLDINGS", " GROUP",
}

var multiSpaceRe = regexp.MustCompile(`\s{2,}`)

// StripLegalSuffix removes one trailing legal suffix (LLC, Inc, GmbH, ...)
// and any trailing comma from name, keeping the original casing of the rest.
// "NIO Inc." becomes "NIO".
func StripLegalSuffix(name string) string {
	name = multiSpaceRe.ReplaceAllString(strings.TrimSpace(name), " ")
	if name == "" {
		return ""
	}

	upper := strings.ToUpper(name)
	best := ""
	for _, suffix := range legalSuffixes {
		if strings.HasSuffix(upper, suffix) && len(suffix) > len(best) {
			best = suffix
		}
	}
	if best != "" && len(best) < len(name) && strings.EqualFold(name[len(name)-len(best):], best) {
		name = name[:len(name)-len(best)]
	}

	return strings.TrimRight(strings.TrimSpace(name), ",")
}
