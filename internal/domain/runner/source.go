package runner

import (
	"regexp"
	"strings"

	"github.com/codesphere/backend/internal/domain/room"
)

var javaPublicClass = regexp.MustCompile(`public\s+class\s+(\w+)`)

const cppPreamble = "#include <iostream>\nusing namespace std;\n\n"

// Source is a program ready to be written into a workspace.
type Source struct {
	// File is the name of the source file inside the workspace.
	File string
	// Entry is the Java class to launch. Empty for other languages.
	Entry string
	Text  string
}

// PrepareSource applies the per-language rules that turn an editor buffer
// into a compilable file.
func PrepareSource(lang room.Language, text string) Source {
	switch lang {
	case room.Java:
		if m := javaPublicClass.FindStringSubmatch(text); m != nil {
			return Source{File: m[1] + ".java", Entry: m[1], Text: text}
		}
		return Source{File: "Main.java", Entry: "Main", Text: wrapJava(text)}
	case room.Cpp:
		if !strings.Contains(text, "#include") {
			text = cppPreamble + text
		}
		return Source{File: "program.cpp", Text: text}
	case room.Python:
		return Source{File: "script.py", Text: text}
	case room.JavaScript:
		return Source{File: "script.js", Text: text}
	}
	return Source{Text: text}
}

// wrapJava places a bare statement snippet inside a Main entry point.
func wrapJava(snippet string) string {
	lines := strings.Split(snippet, "\n")
	for i, l := range lines {
		lines[i] = "        " + l
	}

	var b strings.Builder
	b.WriteString("public class Main {\n")
	b.WriteString("    public static void main(String[] args) {\n")
	b.WriteString(strings.Join(lines, "\n"))
	b.WriteString("\n    }\n}\n")
	return b.String()
}
