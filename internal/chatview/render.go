// Package chatview holds the display rules of the chat panel: splitting model
// replies into prose and fenced code, highlighting the code, choosing the
// pending indicator and gating follow-up input.
package chatview

import (
	"bytes"
	"html/template"
	"regexp"
	"strings"
	"time"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

const fence = "```"

// CopiedDuration is how long a copy button shows its confirmation
const CopiedDuration = 2 * time.Second

// DefaultStyle is the chroma style used for code blocks
const DefaultStyle = "github"

var openingFence = regexp.MustCompile("^```([a-z]*)\n?")

// SegmentKind distinguishes prose from code
type SegmentKind string

const (
	// KindText is plain prose rendered with its line breaks preserved
	KindText SegmentKind = "text"
	// KindCode is the trimmed body of a fenced block
	KindCode SegmentKind = "code"
)

// Segment is one piece of a model reply
type Segment struct {
	Kind     SegmentKind `json:"kind"`
	Content  string      `json:"content"`
	Language string      `json:"language,omitempty"`
}

// Split cuts text on fenced code blocks. A fence opens with three backticks,
// optionally followed by a lowercase language tag, and closes at the next
// three backticks. An unclosed fence stays part of the prose.
func Split(text string) []Segment {
	var out []Segment
	rest := text
	for rest != "" {
		open := strings.Index(rest, fence)
		if open < 0 {
			break
		}
		end := strings.Index(rest[open+len(fence):], fence)
		if end < 0 {
			break
		}
		closeAt := open + len(fence) + end

		if open > 0 {
			out = append(out, Segment{Kind: KindText, Content: rest[:open]})
		}
		out = append(out, codeSegment(rest[open:closeAt]))
		rest = rest[closeAt+len(fence):]
	}
	if rest != "" {
		out = append(out, Segment{Kind: KindText, Content: rest})
	}
	return out
}

// codeSegment strips the opening fence and language tag from raw, which ends
// just before the closing fence.
func codeSegment(raw string) Segment {
	lang := ""
	body := raw
	if m := openingFence.FindStringSubmatchIndex(raw); m != nil {
		lang = raw[m[2]:m[3]]
		body = raw[m[1]:]
	}
	return Segment{Kind: KindCode, Content: strings.TrimSpace(body), Language: lang}
}

// RenderedSegment is a segment ready for the page template
type RenderedSegment struct {
	Segment
	// HTML holds highlighted markup for code segments
	HTML template.HTML `json:"-"`
}

// IsCode reports whether the segment is a code block
func (r RenderedSegment) IsCode() bool {
	return r.Kind == KindCode
}

// Renderer highlights code segments as HTML
type Renderer struct {
	style     *chroma.Style
	formatter *html.Formatter
}

// NewRenderer returns a renderer for a chroma style, falling back to the
// default style when the name is unknown.
func NewRenderer(styleName string) *Renderer {
	style := styles.Get(styleName)
	if style == nil {
		style = styles.Fallback
	}
	return &Renderer{
		style:     style,
		formatter: html.New(html.WithClasses(false), html.TabWidth(4)),
	}
}

// Render splits a model reply and highlights its code blocks
func (r *Renderer) Render(text string) []RenderedSegment {
	segments := Split(text)
	out := make([]RenderedSegment, len(segments))
	for i, s := range segments {
		out[i] = RenderedSegment{Segment: s}
		if s.Kind == KindCode {
			out[i].HTML = r.highlight(s)
		}
	}
	return out
}

func (r *Renderer) highlight(s Segment) template.HTML {
	var lexer chroma.Lexer
	if s.Language != "" {
		lexer = lexers.Get(s.Language)
	}
	if lexer == nil {
		lexer = lexers.Analyse(s.Content)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	iterator, err := lexer.Tokenise(nil, s.Content)
	if err != nil {
		return plainCode(s.Content)
	}
	var buf bytes.Buffer
	if err := r.formatter.Format(&buf, r.style, iterator); err != nil {
		return plainCode(s.Content)
	}
	return template.HTML(buf.String())
}

func plainCode(code string) template.HTML {
	return template.HTML("<pre><code>" + template.HTMLEscapeString(code) + "</code></pre>")
}

// Indicator is the pending marker shown in the chat panel
type Indicator string

const (
	// IndicatorNone is shown when no request is in flight
	IndicatorNone Indicator = ""
	// IndicatorSpinner is shown while the first answer is awaited
	IndicatorSpinner Indicator = "spinner"
	// IndicatorDots is shown while a reply is awaited mid-conversation
	IndicatorDots Indicator = "dots"
)

// PendingIndicator picks the marker for the current request state
func PendingIndicator(pending bool, turns int) Indicator {
	switch {
	case !pending:
		return IndicatorNone
	case turns == 0:
		return IndicatorSpinner
	default:
		return IndicatorDots
	}
}

// ShowPlaceholder reports whether the empty-panel placeholder is visible
func ShowPlaceholder(pending bool, turns int) bool {
	return turns == 0 && !pending
}

// ShowFollowUpInput reports whether the follow-up box is offered
func ShowFollowUpInput(turns int) bool {
	return turns > 0
}

// CanSendFollowUp reports whether the follow-up submit control is enabled
func CanSendFollowUp(input string, pending bool) bool {
	return !pending && strings.TrimSpace(input) != ""
}
