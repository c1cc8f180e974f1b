package bridge

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

const markerLabel = "Сесія:"

var (
	uuidPattern = `[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`

	markerPattern        = regexp.MustCompile(`(?i)сесія:\s*(` + uuidPattern + `)`)
	leadingMarkerPattern = regexp.MustCompile(`(?is)^\s*сесія:\s*(` + uuidPattern + `)[\s:,.\-–—]*(.*)$`)
	replyCommandPattern  = regexp.MustCompile(`(?s)^\s*/reply(?:@\w+)?\s+(\S+)\s+(.+)$`)
	spaces               = regexp.MustCompile(`[ \t]{2,}`)
)

// Marker renders the session tag embedded in every outbound notification.
func Marker(id uuid.UUID) string {
	return markerLabel + " " + id.String()
}

// Inbound is an operator message as the router sees it.
type Inbound struct {
	Text string
	// ReplyToText is the text of the message being replied to, if any.
	ReplyToText string
}

// Route names the session an operator message is for and the text to relay.
type Route struct {
	SessionID uuid.UUID
	Text      string
	Matcher   string
}

type matcher struct {
	name  string
	match func(in Inbound) (uuid.UUID, string, bool)
}

// matchers are tried in order; the first hit wins.
var matchers = []matcher{
	{name: "reply-to", match: matchReplyTo},
	{name: "reply-command", match: matchReplyCommand},
	{name: "leading-marker", match: matchLeadingMarker},
	{name: "inline-marker", match: matchInlineMarker},
}

// Resolve returns the route of an operator message. It never guesses: a
// message naming no session, or more than one, is not routed.
func Resolve(in Inbound) (Route, bool) {
	for _, m := range matchers {
		id, text, ok := m.match(in)
		if !ok {
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		return Route{SessionID: id, Text: text, Matcher: m.name}, true
	}
	return Route{}, false
}

// singleMarker returns the one session named in s. Text naming several
// distinct sessions is ambiguous.
func singleMarker(s string) (uuid.UUID, bool) {
	found := markerPattern.FindAllStringSubmatch(s, -1)
	ids := lo.Uniq(lo.FilterMap(found, func(m []string, _ int) (uuid.UUID, bool) {
		id, err := uuid.Parse(m[1])
		return id, err == nil
	}))
	if len(ids) != 1 {
		return uuid.Nil, false
	}
	return ids[0], true
}

func matchReplyTo(in Inbound) (uuid.UUID, string, bool) {
	if in.ReplyToText == "" || isCommand(in.Text) {
		return uuid.Nil, "", false
	}
	id, ok := singleMarker(in.ReplyToText)
	if !ok {
		return uuid.Nil, "", false
	}
	return id, stripMarkers(in.Text), true
}

func matchReplyCommand(in Inbound) (uuid.UUID, string, bool) {
	m := replyCommandPattern.FindStringSubmatch(in.Text)
	if m == nil {
		return uuid.Nil, "", false
	}
	id, err := uuid.Parse(m[1])
	if err != nil {
		return uuid.Nil, "", false
	}
	return id, m[2], true
}

func matchLeadingMarker(in Inbound) (uuid.UUID, string, bool) {
	m := leadingMarkerPattern.FindStringSubmatch(in.Text)
	if m == nil {
		return uuid.Nil, "", false
	}
	id, err := uuid.Parse(m[1])
	if err != nil {
		return uuid.Nil, "", false
	}
	if other, ok := singleMarker(in.Text); !ok || other != id {
		return uuid.Nil, "", false
	}
	return id, stripMarkers(m[2]), true
}

func matchInlineMarker(in Inbound) (uuid.UUID, string, bool) {
	id, ok := singleMarker(in.Text)
	if !ok {
		return uuid.Nil, "", false
	}
	return id, stripMarkers(in.Text), true
}

func stripMarkers(s string) string {
	s = markerPattern.ReplaceAllString(s, "")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(spaces.ReplaceAllString(line, " "))
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func isCommand(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), "/")
}

// command splits "/name@bot arg rest" into its name and arguments.
func command(text string) (string, []string) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil
	}
	name := strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	return strings.ToLower(name), fields[1:]
}
