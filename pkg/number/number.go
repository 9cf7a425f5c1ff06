// Package number canonicalizes raw question and section number tokens.
//
// OCR transcripts carry the same number in many shapes: full-width digits,
// kanji and roman numerals, doubled marker glyphs, and character confusions
// such as 間 for 問. Normalize folds all of them into one canonical form.
// Normalization is a pure function and idempotent: applying it to an
// already-canonical token returns the token unchanged.
package number

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/width"

	"github.com/coolbeans/kakomon/pkg/exam"
)

var (
	doubledMarkerRe = regexp.MustCompile(`問問+`)
	ocrConfusionRe  = regexp.MustCompile(`間([0-9０-９一二三四五六七八九十])`)
	kanjiRunRe      = regexp.MustCompile(`[一二三四五六七八九十]+`)
	romanRunRe      = regexp.MustCompile(`[ⅠⅡⅢⅣⅤⅥⅦⅧⅨⅩ]|\b[IVX]{1,4}\b`)
	digitRunRe      = regexp.MustCompile(`[0-9]+`)
)

var circledDigits = map[rune]int{
	'①': 1, '②': 2, '③': 3, '④': 4, '⑤': 5,
	'⑥': 6, '⑦': 7, '⑧': 8, '⑨': 9, '⑩': 10,
	'⑪': 11, '⑫': 12, '⑬': 13, '⑭': 14, '⑮': 15,
	'⑯': 16, '⑰': 17, '⑱': 18, '⑲': 19, '⑳': 20,
}

var romanValues = map[string]int{
	"Ⅰ": 1, "Ⅱ": 2, "Ⅲ": 3, "Ⅳ": 4, "Ⅴ": 5,
	"Ⅵ": 6, "Ⅶ": 7, "Ⅷ": 8, "Ⅸ": 9, "Ⅹ": 10,
	"I": 1, "II": 2, "III": 3, "IV": 4, "V": 5,
	"VI": 6, "VII": 7, "VIII": 8, "IX": 9, "X": 10,
}

var kanjiDigits = map[rune]int{
	'一': 1, '二': 2, '三': 3, '四': 4, '五': 5,
	'六': 6, '七': 7, '八': 8, '九': 9,
}

var bracketFolds = strings.NewReplacer(
	"（", "(", "）", ")",
	"【", "(", "】", ")",
	"［", "(", "］", ")",
	"[", "(", "]", ")",
)

// Normalize canonicalizes a raw number token. The returned token carries
// the canonical string in Raw-normalized form via Canonical, the integer
// value, and the strongest correction that was applied.
func Normalize(raw string) exam.NumberToken {
	canonical, correction := canonicalize(raw)
	return exam.NumberToken{
		Raw:        raw,
		Normalized: Value(canonical),
		Correction: correction,
	}
}

// Canonical returns the canonical string form of a raw number token.
// Canonical(Canonical(x)) == Canonical(x) for all inputs.
func Canonical(raw string) string {
	s, _ := canonicalize(raw)
	return s
}

func canonicalize(raw string) (string, exam.Correction) {
	s := raw
	correction := exam.CorrectionNone

	// Doubled marker glyphs and 間/問 confusion are OCR artifacts.
	if collapsed := doubledMarkerRe.ReplaceAllString(s, "問"); collapsed != s {
		s = collapsed
		correction = exam.CorrectionOCR
	}
	if fixed := ocrConfusionRe.ReplaceAllString(s, "問$1"); fixed != s {
		s = fixed
		correction = exam.CorrectionOCR
	}

	// Full-width digits and circled numerals fold to ASCII digits.
	if folded := foldWidth(s); folded != s {
		s = folded
		if correction == exam.CorrectionNone {
			correction = exam.CorrectionWidth
		}
	}

	// Roman and kanji numerals convert to integers.
	if converted := convertRoman(s); converted != s {
		s = converted
		if correction == exam.CorrectionNone {
			correction = exam.CorrectionRoman
		}
	}
	if converted := convertKanji(s); converted != s {
		s = converted
		if correction == exam.CorrectionNone {
			correction = exam.CorrectionRoman
		}
	}

	// Unify bracket styles last so converted digits keep their parens.
	if unified := bracketFolds.Replace(s); unified != s {
		s = unified
		if correction == exam.CorrectionNone {
			correction = exam.CorrectionWidth
		}
	}

	return s, correction
}

// Value extracts the integer value of a canonical token: the first digit
// run, or the ordinal of a marker letter (katakana, hiragana, or latin).
// It returns 0 when the token carries no recognizable number.
func Value(canonical string) int {
	if m := digitRunRe.FindString(canonical); m != "" {
		n, err := strconv.Atoi(m)
		if err == nil {
			return n
		}
	}
	for _, r := range canonical {
		if n := letterOrdinal(r); n > 0 {
			return n
		}
	}
	return 0
}

// letterOrdinal maps marker letters to 1-based ordinals: ア→1 in gojūon
// order, あ→1, a/A→1.
func letterOrdinal(r rune) int {
	katakana := []rune("アイウエオカキクケコサシスセソタチツテト")
	hiragana := []rune("あいうえおかきくけこさしすせそたちつてと")
	for i, k := range katakana {
		if r == k {
			return i + 1
		}
	}
	for i, h := range hiragana {
		if r == h {
			return i + 1
		}
	}
	switch {
	case r >= 'a' && r <= 'z':
		return int(r-'a') + 1
	case r >= 'A' && r <= 'Z':
		return int(r-'A') + 1
	}
	return 0
}

func foldWidth(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if n, ok := circledDigits[r]; ok {
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return width.Fold.String(b.String())
}

func convertRoman(s string) string {
	return romanRunRe.ReplaceAllStringFunc(s, func(m string) string {
		if v, ok := romanValues[m]; ok {
			return strconv.Itoa(v)
		}
		return m
	})
}

func convertKanji(s string) string {
	return kanjiRunRe.ReplaceAllStringFunc(s, func(m string) string {
		if v := kanjiValue(m); v > 0 {
			return strconv.Itoa(v)
		}
		return m
	})
}

// kanjiValue parses kanji numerals up to 九十九 (一, 十, 十一, 二十, 二十三).
func kanjiValue(s string) int {
	runes := []rune(s)
	tens, units := 0, 0
	seenTen := false
	for _, r := range runes {
		if r == '十' {
			if seenTen {
				return 0 // 十十 is not a numeral
			}
			seenTen = true
			if units == 0 {
				tens = 1
			} else {
				tens = units
			}
			units = 0
			continue
		}
		d, ok := kanjiDigits[r]
		if !ok || units != 0 {
			return 0
		}
		units = d
	}
	if seenTen {
		return tens*10 + units
	}
	return units
}
