package auth

import (
	"fmt"
	"regexp"
	"strings"
)

// PhoneFormat accepts numbers of the form +<CountryCode><NationalDigits digits>.
type PhoneFormat struct {
	CountryCode    string
	NationalDigits int
	re             *regexp.Regexp
}

var countryCodeRe = regexp.MustCompile(`^[1-9][0-9]{0,2}$`)

// NewPhoneFormat validates the parameters and compiles the matcher.
func NewPhoneFormat(countryCode string, nationalDigits int) (PhoneFormat, error) {
	countryCode = strings.TrimPrefix(strings.TrimSpace(countryCode), "+")
	if !countryCodeRe.MatchString(countryCode) {
		return PhoneFormat{}, fmt.Errorf("invalid country code %q", countryCode)
	}
	if nationalDigits < 4 || nationalDigits+len(countryCode) > 15 {
		return PhoneFormat{}, fmt.Errorf("invalid national number length %d", nationalDigits)
	}
	re := regexp.MustCompile(fmt.Sprintf(`^\+%s[0-9]{%d}$`, countryCode, nationalDigits))
	return PhoneFormat{CountryCode: countryCode, NationalDigits: nationalDigits, re: re}, nil
}

var phoneSeparators = strings.NewReplacer(" ", "", "-", "", ".", "", "(", "", ")", "")

// Canonical strips whitespace and common separators and reports whether the
// result matches the format.
func (f PhoneFormat) Canonical(raw string) (string, bool) {
	phone := phoneSeparators.Replace(strings.TrimSpace(raw))
	if f.re == nil || !f.re.MatchString(phone) {
		return phone, false
	}
	return phone, true
}

func (f PhoneFormat) String() string {
	return fmt.Sprintf("+%s followed by %d digits", f.CountryCode, f.NationalDigits)
}
