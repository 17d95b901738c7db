package phonetic

import "unicode"

var urduLetters = map[rune]string{
	'A': "ای", 'B': "بی", 'C': "سی", 'D': "ڈی", 'E': "ای",
	'F': "ایف", 'G': "جی", 'H': "ایچ", 'I': "آئی", 'J': "جے",
	'K': "کے", 'L': "ایل", 'M': "ایم", 'N': "این", 'O': "او",
	'P': "پی", 'Q': "کیو", 'R': "آر", 'S': "ایس", 'T': "ٹی",
	'U': "یو", 'V': "وی", 'W': "ڈبلیو", 'X': "ایکس", 'Y': "وائے",
	'Z': "زیڈ",
}

var urduDigits = [10]string{"زیرو", "ایک", "دو", "تین", "چار", "پانچ", "چھ", "سات", "آٹھ", "نو"}

// Urdu spells Latin letters and ASCII digits with their Urdu names.
type Urdu struct{}

// Encode implements [Encoder]. Letters are matched case-insensitively;
// anything outside the table passes through unchanged.
func (Urdu) Encode(label string) string {
	return spell(label, urduToken)
}

func urduToken(r rune) (string, bool) {
	if r >= '0' && r <= '9' {
		return urduDigits[r-'0'], true
	}
	t, ok := urduLetters[unicode.ToUpper(r)]
	return t, ok
}

// Message implements [Encoder].
func (u Urdu) Message(ticket, counter string, urgent bool) string {
	t, c := u.Encode(ticket), u.Encode(counter)
	if urgent {
		return "ٹکٹ نمبر " + t + " برائے کرم فوری طور پر کاؤنٹر نمبر " + c + " پر تشریف لائیں۔ شکریہ۔"
	}
	return "ٹکٹ نمبر " + t + " برائے کرم کاؤنٹر نمبر " + c + " پر تشریف لائیں۔ شکریہ۔"
}
