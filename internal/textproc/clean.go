package textproc

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/jdkato/prose/v2"
)

var (
	urlPattern   = regexp.MustCompile(`https?://\S+`)
	spacePattern = regexp.MustCompile(`\s+`)
)

// Clean strips markup, entities and links from a title or description and
// collapses whitespace.
func Clean(text string) string {
	if strings.ContainsAny(text, "<&") {
		text = stripMarkup(text)
	}
	text = urlPattern.ReplaceAllString(text, " ")
	text = spacePattern.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

func stripMarkup(text string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
	if err != nil {
		return text
	}

	doc.Find("script, style").Each(func(i int, s *goquery.Selection) {
		s.Remove()
	})

	return doc.Find("body").Text()
}

// Tokenize lowercases text and returns word tokens longer than two runes,
// without stopwords.
func Tokenize(text string) []string {
	text = strings.ToLower(Clean(text))
	if text == "" {
		return nil
	}

	doc, err := prose.NewDocument(text,
		prose.WithTagging(false),
		prose.WithExtraction(false),
		prose.WithSegmentation(false),
	)
	if err != nil {
		return tokenizeFields(text)
	}

	var out []string
	for _, tok := range doc.Tokens() {
		out = appendWords(out, tok.Text)
	}
	return out
}

func tokenizeFields(text string) []string {
	var out []string
	for _, f := range strings.Fields(text) {
		out = appendWords(out, f)
	}
	return out
}

func appendWords(out []string, token string) []string {
	for _, w := range strings.FieldsFunc(token, notWordRune) {
		if len([]rune(w)) <= 2 || IsStopword(w) {
			continue
		}
		out = append(out, w)
	}
	return out
}

func notWordRune(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

const topicWords = 8

// TopicKey buckets near-duplicate titles: the first eight words of the
// lowercased title with punctuation removed.
func TopicKey(title string) string {
	words := strings.FieldsFunc(strings.ToLower(Clean(title)), notWordRune)
	if len(words) > topicWords {
		words = words[:topicWords]
	}
	return strings.Join(words, " ")
}
