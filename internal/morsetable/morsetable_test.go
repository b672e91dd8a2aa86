package morsetable

import "testing"

func TestRepresentationKnownCharacters(t *testing.T) {
	tests := []struct {
		char rune
		want string
	}{
		{'E', "."},
		{'T', "-"},
		{'S', "..."},
		{'O', "---"},
		{'5', "....."},
		{'0', "-----"},
		{'.', ".-.-.-"},
		{'?', "..--.."},
	}
	for _, tt := range tests {
		got, ok := Representation(tt.char)
		if !ok {
			t.Errorf("Representation(%q) not found", tt.char)
			continue
		}
		if got != tt.want {
			t.Errorf("Representation(%q) = %q, want %q", tt.char, got, tt.want)
		}
	}
}

func TestRepresentationLowercaseFoldsToUpper(t *testing.T) {
	got, ok := Representation('e')
	if !ok || got != "." {
		t.Errorf("Representation('e') = (%q, %v), want (\".\", true)", got, ok)
	}
}

func TestRepresentationUnknownCharacter(t *testing.T) {
	if _, ok := Representation('#'); ok {
		t.Error("Representation('#') found, want not found")
	}
}

func TestTableCharacterRoundTrip(t *testing.T) {
	for _, ch := range []rune{'A', 'Z', '0', '9', 'S', 'O'} {
		repr, ok := Representation(ch)
		if !ok {
			t.Fatalf("Representation(%q) not found", ch)
		}
		got, ok := Table.Character(repr)
		if !ok {
			t.Fatalf("Character(%q) not found", repr)
		}
		if got != ch {
			t.Errorf("Character(%q) = %q, want %q", repr, got, ch)
		}
	}
}

func TestCharacterUnknownRepresentation(t *testing.T) {
	if _, ok := Table.Character("......."); ok {
		t.Error("Character() found a representation with no table entry")
	}
}

func TestEncodeWordSkipsUnknownCharacters(t *testing.T) {
	got := EncodeWord("S#OS")
	want := "... --- ..."
	if got != want {
		t.Errorf("EncodeWord(\"S#OS\") = %q, want %q", got, want)
	}
}

func TestEncodeWordEmptyResultForAllUnknown(t *testing.T) {
	if got := EncodeWord("#"); got != "" {
		t.Errorf("EncodeWord(%q) = %q, want empty", "#", got)
	}
}
