package extractor

import (
	"regexp"
	"strings"
	"unicode"
)

type Field string

const (
	FieldTrackingID     Field = "tracking_id"
	FieldPickupCode     Field = "pickup_code"
	FieldPickupLocation Field = "pickup_location"
)

// Rule is a single pattern for one field. The first capture group is the value.
type Rule struct {
	Name    string
	Field   Field
	Pattern *regexp.Regexp
	// Post is applied to the captured group; nil keeps it as is.
	Post func(string) string
}

// Apply returns the post-processed capture of the first match in text.
func (r Rule) Apply(text string) (string, bool) {
	m := r.Pattern.FindStringSubmatch(text)
	if len(m) < 2 {
		return "", false
	}
	v := m[1]
	if r.Post != nil {
		v = r.Post(v)
	}
	if v == "" {
		return "", false
	}
	return v, true
}

// Суффиксы, которыми обязано заканчиваться название пункта выдачи.
var locationSuffixes = []string{"快递站", "驿站", "代收点", "菜鸟", "丰巢", "速递易"}

// Пробельные символы: \t\n\v\f\r, пробел, разделители U+001C-U+001F, NEL (U+0085)
// и вся категория Z (в т.ч. U+3000, U+2028, U+2029).
const spaceClass = `\t\n\v\f\r \x{1c}-\x{1f}\x{85}\p{Z}`

const codeSeparator = `[:：` + spaceClass + `]*`

func isSpace(r rune) bool {
	switch {
	case r >= '\t' && r <= '\r', r >= 0x1c && r <= 0x1f, r == ' ', r == 0x85:
		return true
	}
	return unicode.In(r, unicode.Z)
}

// trimSpace strips the same characters codeSeparator accepts.
func trimSpace(s string) string {
	return strings.TrimFunc(s, isSpace)
}

const codeClass = `([A-Za-z0-9]{4,8})`

// DefaultRules is the rule table in evaluation order. Rules of different
// fields never affect each other; within a field the first match wins.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:    "tracking_after_courier",
			Field:   FieldTrackingID,
			Pattern: regexp.MustCompile(`快递[:：]\*?(\p{Nd}+)`),
		},
		{
			Name:  "location_after_arrival",
			Field: FieldPickupLocation,
			Pattern: regexp.MustCompile(
				`(?:已到|送至|存放在|到达)([^，,。.请]+(?:` + strings.Join(locationSuffixes, "|") + `))`,
			),
			Post: trimSpace,
		},
		{
			Name:    "code_please_present",
			Field:   FieldPickupCode,
			Pattern: regexp.MustCompile(`请凭` + codeClass + `(?:前往|领取)`),
		},
		{
			Name:    "code_pickup_code",
			Field:   FieldPickupCode,
			Pattern: regexp.MustCompile(`取件码` + codeSeparator + codeClass),
		},
		{
			Name:    "code_verification_code",
			Field:   FieldPickupCode,
			Pattern: regexp.MustCompile(`验证码` + codeSeparator + codeClass),
		},
		{
			Name:    "code_present_collect",
			Field:   FieldPickupCode,
			Pattern: regexp.MustCompile(`凭` + codeClass + `取件`),
		},
	}
}
