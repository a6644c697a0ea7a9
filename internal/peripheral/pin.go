package peripheral

import "regexp"

// PINNamePrefix is the advertised-name prefix of the only device family whose
// pairing PIN can be derived. Such devices advertise as "iCOBOT-<digits>" and
// expect the digit run written twice.
const PINNamePrefix = "iCOBOT-"

var pinNameRe = regexp.MustCompile(`^` + regexp.QuoteMeta(PINNamePrefix) + `([0-9]+)`)

// ResolvePIN derives the pairing PIN from a peripheral name. ok is false when
// the name does not start with PINNamePrefix followed by at least one digit.
func ResolvePIN(name string) (pin string, ok bool) {
	m := pinNameRe.FindStringSubmatch(name)
	if m == nil {
		return "", false
	}
	return m[1] + m[1], true
}
