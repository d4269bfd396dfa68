package analysis

import (
	"path/filepath"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/lexers"
)

// sourceLine is one line of a file split into code and comment text.
type sourceLine struct {
	Num     int
	Raw     string
	Code    string
	Comment string
}

// splitSource tokenizes content with the chroma lexer for path and returns
// one sourceLine per input line. Files without a lexer fall back to
// prefix-based comment detection.
func splitSource(path, content string) []sourceLine {
	rawLines := strings.Split(strings.TrimSuffix(content, "\n"), "\n")
	lexer := lexerForFile(path)
	if lexer == nil {
		return plainLines(rawLines)
	}
	iterator, err := lexer.Tokenise(nil, content)
	if err != nil {
		return plainLines(rawLines)
	}

	lines := make([]sourceLine, len(rawLines))
	for i, raw := range rawLines {
		lines[i] = sourceLine{Num: i + 1, Raw: raw}
	}
	var code, comment strings.Builder
	idx := 0
	flush := func() {
		if idx < len(lines) {
			lines[idx].Code = code.String()
			lines[idx].Comment = comment.String()
		}
		code.Reset()
		comment.Reset()
		idx++
	}

	for _, token := range iterator.Tokens() {
		// Split tokens that span multiple lines
		parts := strings.Split(token.Value, "\n")
		for i, part := range parts {
			if i > 0 {
				flush()
			}
			if token.Type.InCategory(chroma.Comment) {
				comment.WriteString(part)
			} else {
				code.WriteString(part)
			}
		}
	}
	flush()
	return lines
}

func plainLines(raw []string) []sourceLine {
	lines := make([]sourceLine, len(raw))
	for i, text := range raw {
		l := sourceLine{Num: i + 1, Raw: text}
		if isCommentLine(text) {
			l.Comment = text
		} else {
			l.Code = text
		}
		lines[i] = l
	}
	return lines
}

func isCommentLine(text string) bool {
	trimmed := strings.TrimSpace(text)
	for _, prefix := range []string{"//", "#", "*", "/*"} {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	return false
}

func lexerForFile(filename string) chroma.Lexer {
	lexer := lexers.Match(filename)
	if lexer == nil {
		ext := filepath.Ext(filename)
		if ext != "" {
			lexer = lexers.Match("file" + ext)
		}
	}
	if lexer != nil {
		lexer = chroma.Coalesce(lexer)
	}
	return lexer
}
