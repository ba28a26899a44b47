package runner

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/codesphere/backend/internal/domain/room"
)

func TestPrepareSourceJava(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		wantFile  string
		wantEntry string
		wrapped   bool
	}{
		{
			name:      "named public class",
			text:      "public class Hello { public static void main(String[] a) {} }",
			wantFile:  "Hello.java",
			wantEntry: "Hello",
		},
		{
			name:      "extra whitespace",
			text:      "public   class\tGreeter {}",
			wantFile:  "Greeter.java",
			wantEntry: "Greeter",
		},
		{
			name:      "bare snippet",
			text:      "System.out.println(\"hi\");\nint x = 1;",
			wantFile:  "Main.java",
			wantEntry: "Main",
			wrapped:   true,
		},
		{
			name:      "non public class is wrapped",
			text:      "class Hidden {}",
			wantFile:  "Main.java",
			wantEntry: "Main",
			wrapped:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := PrepareSource(room.Java, tt.text)
			assert.Equal(t, tt.wantFile, src.File)
			assert.Equal(t, tt.wantEntry, src.Entry)
			if tt.wrapped {
				assert.True(t, strings.HasPrefix(src.Text, "public class Main {"))
				assert.Contains(t, src.Text, "public static void main(String[] args)")
				for _, line := range strings.Split(tt.text, "\n") {
					assert.Contains(t, src.Text, "        "+line)
				}
			} else {
				assert.Equal(t, tt.text, src.Text)
			}
		})
	}
}

func TestPrepareSourceCpp(t *testing.T) {
	src := PrepareSource(room.Cpp, `int main() { cout << "hi"; }`)
	assert.Equal(t, "program.cpp", src.File)
	assert.True(t, strings.HasPrefix(src.Text, "#include <iostream>\nusing namespace std;"))

	withInclude := "#include <cstdio>\nint main() { puts(\"hi\"); }"
	src = PrepareSource(room.Cpp, withInclude)
	assert.Equal(t, withInclude, src.Text)
}

func TestPrepareSourceScripts(t *testing.T) {
	assert.Equal(t, "script.py", PrepareSource(room.Python, "print(1)").File)
	assert.Equal(t, "script.js", PrepareSource(room.JavaScript, "1").File)
}
