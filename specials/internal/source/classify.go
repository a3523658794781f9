package source

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/net/html"
)

// Response is a raw transport response.
type Response struct {
	Status int
	Body   []byte
}

// BlockMarker is the interstitial text served by the stores' bot defence.
const BlockMarker = "pardon our interruption"

var titleKeywords = []string{"pardon", "interruption", "challenge", "blocked", "access denied"}

// Check maps a raw response onto the outcome taxonomy: nil for a usable
// 2xx body, ErrBlocked for challenge pages and 403, a transient FetchError
// for everything else.
func Check(resp *Response) error {
	if resp.Status == http.StatusForbidden {
		return fmt.Errorf("%w: http 403", ErrBlocked)
	}
	if IsChallenge(resp.Body) {
		return fmt.Errorf("%w: challenge page (http %d)", ErrBlocked, resp.Status)
	}
	if resp.Status < 200 || resp.Status >= 300 {
		return &FetchError{Kind: KindTransient, Status: resp.Status, Err: fmt.Errorf("%s", http.StatusText(resp.Status))}
	}
	return nil
}

// IsChallenge reports whether body looks like a bot challenge page: the
// block marker near the top of the document, or a challenge keyword in its
// <title>. JSON bodies are never challenges.
func IsChallenge(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		return false
	}
	head := trimmed
	if len(head) > 64<<10 {
		head = head[:64<<10]
	}
	if bytes.Contains(bytes.ToLower(head), []byte(BlockMarker)) {
		return true
	}
	return TitleIsChallenge(PageTitle(head))
}

// TitleIsChallenge reports whether a document title carries a challenge
// keyword.
func TitleIsChallenge(title string) bool {
	t := strings.ToLower(title)
	for _, kw := range titleKeywords {
		if strings.Contains(t, kw) {
			return true
		}
	}
	return false
}

// PageTitle returns the text of the first <title> element, or "".
func PageTitle(doc []byte) string {
	z := html.NewTokenizer(bytes.NewReader(doc))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken:
			name, _ := z.TagName()
			if string(name) != "title" {
				continue
			}
			if z.Next() == html.TextToken {
				return strings.TrimSpace(string(z.Text()))
			}
			return ""
		}
	}
}
