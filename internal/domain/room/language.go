package room

import "strings"

// Language is one of the closed set of editor/runner languages.
type Language string

const (
	Java       Language = "java"
	Python     Language = "python"
	Cpp        Language = "cpp"
	JavaScript Language = "javascript"
)

var languages = []Language{Java, Python, Cpp, JavaScript}

// Languages returns the supported languages in display order.
func Languages() []Language {
	out := make([]Language, len(languages))
	copy(out, languages)
	return out
}

// ParseLanguage normalises a client-supplied tag. Unknown tags report false.
func ParseLanguage(tag string) (Language, bool) {
	l := Language(strings.ToLower(strings.TrimSpace(tag)))
	switch l {
	case Java, Python, Cpp, JavaScript:
		return l, true
	}
	return "", false
}

func (l Language) String() string { return string(l) }

var templates = map[Language]string{
	Java: `public class Main {
    public static void main(String[] args) {
        System.out.println("Hello, CodeSphere!");
    }
}`,
	Python: `print("Hello, CodeSphere!")`,
	Cpp: `#include <iostream>
using namespace std;

int main() {
    cout << "Hello, CodeSphere!" << endl;
    return 0;
}`,
	JavaScript: `console.log("Hello, CodeSphere!");`,
}

// Template returns the starter document for a new room in the given language.
func Template(l Language) string {
	return templates[l]
}
