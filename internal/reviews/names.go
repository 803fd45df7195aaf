package reviews

import "strings"

// Name is a person parsed from a free-text name column.
type Name struct {
	First string
	Last  string
}

func (n Name) String() string {
	return strings.TrimSpace(n.First + " " + n.Last)
}

// nameRewrites are applied in order. The last two drop a stray character
// and a handle that once replaced a review manager's name.
var nameRewrites = [][2]string{
	{"\n", " & "},
	{"\t", " "},
	{" and ", " & "},
	{",", " & "},
	{"ª", ""},
	{"OvermindDL1", ""},
}

// ParseNames splits a raw column such as "John Doe, Jane Smith and Joaquin M
// López Muñoz" into names. The last word of each name is the last name; a
// single word is kept as a first name.
func ParseNames(raw string) []Name {
	cleaned := raw
	for _, rw := range nameRewrites {
		cleaned = strings.ReplaceAll(cleaned, rw[0], rw[1])
	}

	names := []Name{}
	for _, part := range strings.Split(cleaned, "&") {
		words := strings.Fields(part)
		switch len(words) {
		case 0:
			continue
		case 1:
			names = append(names, Name{First: words[0]})
		default:
			names = append(names, Name{
				First: strings.Join(words[:len(words)-1], " "),
				Last:  words[len(words)-1],
			})
		}
	}
	return names
}
