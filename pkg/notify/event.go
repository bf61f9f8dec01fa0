package notify

import "fmt"

// Kind identifies one of the supported Bitbucket Server pull-request events.
// Adding a kind means updating every type switch over Event in this package.
type Kind string

const (
	KindOpened       Kind = "pr:opened"
	KindApproved     Kind = "pr:reviewer:approved"
	KindUnapproved   Kind = "pr:reviewer:unapproved"
	KindNeedsWork    Kind = "pr:reviewer:needs_work"
	KindCommentAdded Kind = "pr:comment:added"
)

// Kinds lists every supported event kind.
var Kinds = []Kind{
	KindOpened,
	KindApproved,
	KindUnapproved,
	KindNeedsWork,
	KindCommentAdded,
}

// ParseKind maps a Bitbucket event key to a Kind.
func ParseKind(key string) (Kind, error) {
	for _, kind := range Kinds {
		if string(kind) == key {
			return kind, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnrecognizedEventKind, key)
}

func (k Kind) isDecision() bool {
	return k == KindApproved || k == KindUnapproved || k == KindNeedsWork
}

// reviewStatus is the participant status a decision event must carry.
func (k Kind) reviewStatus() ReviewStatus {
	switch k {
	case KindApproved:
		return StatusApproved
	case KindUnapproved:
		return StatusUnapproved
	case KindNeedsWork:
		return StatusNeedsWork
	}
	return ""
}

// ReviewStatus is the review state of a pull request after a reviewer acted on it.
type ReviewStatus string

const (
	StatusApproved   ReviewStatus = "APPROVED"
	StatusUnapproved ReviewStatus = "UNAPPROVED"
	StatusNeedsWork  ReviewStatus = "NEEDS_WORK"
)

func parseReviewStatus(value string) (ReviewStatus, bool) {
	switch ReviewStatus(value) {
	case StatusApproved, StatusUnapproved, StatusNeedsWork:
		return ReviewStatus(value), true
	default:
		return "", false
	}
}

// Envelope holds the pull-request metadata shared by every event.
type Envelope struct {
	Repository string `json:"repository"`
	Project    string `json:"project"`
	Title      string `json:"title"`
	Author     string `json:"author"`
	Link       string `json:"link"`
}

// Event is a validated pull-request event. The concrete type is one of
// *Opened, *Decision or *CommentAdded.
type Event interface {
	Kind() Kind
	Meta() Envelope
	event()
}

// Opened is emitted when a pull request is created.
type Opened struct {
	Envelope
	Reviewers []string `json:"reviewers"`
}

// Decision is emitted when a reviewer approves, unapproves or marks a pull
// request as needing work.
type Decision struct {
	Envelope
	EventKind Kind         `json:"kind"`
	Reviewer  string       `json:"reviewer"`
	Status    ReviewStatus `json:"status"`
}

// CommentAdded is emitted when someone comments on a pull request. Reviewers
// is the pull request's reviewer list at the time of the comment.
type CommentAdded struct {
	Envelope
	Commenter string   `json:"commenter"`
	Text      string   `json:"text"`
	Reviewers []string `json:"reviewers"`
}

func (*Opened) Kind() Kind       { return KindOpened }
func (e *Opened) Meta() Envelope { return e.Envelope }
func (*Opened) event()           {}

func (e *Decision) Kind() Kind     { return e.EventKind }
func (e *Decision) Meta() Envelope { return e.Envelope }
func (*Decision) event()           {}

func (*CommentAdded) Kind() Kind       { return KindCommentAdded }
func (e *CommentAdded) Meta() Envelope { return e.Envelope }
func (*CommentAdded) event()           {}

// AddressedMessage is one rendered notification for one recipient.
type AddressedMessage struct {
	Recipient string `json:"recipient"`
	Text      string `json:"text"`
}
