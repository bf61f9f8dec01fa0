package notify

import (
	"fmt"
	"strings"
)

// Message categories shown as the first line of every notification.
const (
	CategoryReviewStatus  = "PR REVIEW STATUS"
	CategoryComment       = "PR COMMENT"
	CategoryReviewRequest = "PR REVIEW REQUEST"
)

// Render builds the Slack mrkdwn text for ev, attributed to by, which must
// already be a resolved Slack identifier.
func Render(ev Event, by string) string {
	var category, body string
	switch e := ev.(type) {
	case *Decision:
		category = CategoryReviewStatus
		switch e.EventKind {
		case KindApproved:
			body = "Your PR has been approved :star:"
		case KindUnapproved:
			body = "Your PR has been unapproved :exclamation:"
		case KindNeedsWork:
			body = "Your PR needs work :sweat_drops:"
		}
	case *CommentAdded:
		category = CategoryComment
		body = e.Text + " :speech_balloon:"
	case *Opened:
		category = CategoryReviewRequest
		body = "A PR has been opened for your review :bow:"
	}
	return titleBlock(category, ev.Meta(), body, by)
}

func titleBlock(category string, env Envelope, body, by string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s*\n", category)
	fmt.Fprintf(&b, "><%s|%s>\n", env.Link, env.Title)
	fmt.Fprintf(&b, ">%s – %s\n", env.Project, env.Repository)
	fmt.Fprintf(&b, ">%s\n", strings.ReplaceAll(body, "\n", "\n>"))
	b.WriteString(">\n")
	fmt.Fprintf(&b, ">By: <@%s>", by)
	return b.String()
}
