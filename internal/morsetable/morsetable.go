// Package morsetable is the external character/representation lookup the
// receiver composes with. It implements cw.Lookup: a forward map from
// printable characters to dot/dash representations and a reverse map used
// to turn a classified representation back into a rune.
package morsetable

import "strings"

// table holds the alphanumeric core plus punctuation and prosigns.
var table = map[rune]string{
	'A': ".-", 'B': "-...", 'C': "-.-.", 'D': "-..", 'E': ".",
	'F': "..-.", 'G': "--.", 'H': "....", 'I': "..", 'J': ".---",
	'K': "-.-", 'L': ".-..", 'M': "--", 'N': "-.", 'O': "---",
	'P': ".--.", 'Q': "--.-", 'R': ".-.", 'S': "...", 'T': "-",
	'U': "..-", 'V': "...-", 'W': ".--", 'X': "-..-", 'Y': "-.--",
	'Z': "--..",

	'0': "-----", '1': ".----", '2': "..---", '3': "...--", '4': "....-",
	'5': ".....", '6': "-....", '7': "--...", '8': "---..", '9': "----.",

	'.': ".-.-.-", ',': "--..--", '?': "..--..", '\'': ".----.",
	'!': "-.-.--", '/': "-..-.", '(': "-.--.", ')': "-.--.-",
	'&': ".-...", ':': "---...", ';': "-.-.-.", '=': "-...-",
	'+': ".-.-.", '-': "-....-", '_': "..--.-", '"': ".-..-.",
	'$': "...-..-", '@': ".--.-.",
}

var reverse map[string]rune

func init() {
	reverse = make(map[string]rune, len(table))
	for r, repr := range table {
		reverse[repr] = r
	}
}

// Table is the default Lookup, shared and safe for concurrent reads since
// both maps are built once in init and never mutated afterward.
var Table = defaultLookup{}

type defaultLookup struct{}

// Character implements cw.Lookup: it resolves a dot/dash representation
// to the rune it stands for.
func (defaultLookup) Character(representation string) (rune, bool) {
	r, ok := reverse[representation]
	return r, ok
}

// Representation returns the dot/dash string for a character, upper-cased
// first since the table only holds uppercase letters.
func Representation(ch rune) (string, bool) {
	repr, ok := table[toUpper(ch)]
	return repr, ok
}

func toUpper(r rune) rune {
	if r >= 'a' && r <= 'z' {
		return r - ('a' - 'A')
	}
	return r
}

// EncodeWord renders a word (no internal spaces) as a single string of
// space-separated representations, skipping characters with no table
// entry rather than failing the whole word.
func EncodeWord(word string) string {
	parts := make([]string, 0, len(word))
	for _, ch := range word {
		if repr, ok := Representation(ch); ok {
			parts = append(parts, repr)
		}
	}
	return strings.Join(parts, " ")
}
