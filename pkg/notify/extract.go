package notify

import (
	"encoding/json"
	"fmt"

	"github.com/PaesslerAG/jsonpath"
)

// Payload locations read from Bitbucket Server webhook bodies.
const (
	pathEventKey      = "$.eventKey"
	pathTitle         = "$.pullRequest.title"
	pathRepository    = "$.pullRequest.fromRef.repository.name"
	pathProject       = "$.pullRequest.fromRef.repository.project.name"
	pathAuthor        = "$.pullRequest.author.user.emailAddress"
	pathLink          = "$.pullRequest.links.self[0].href"
	pathReviewers     = "$.pullRequest.reviewers"
	pathReviewerEmail = "$.user.emailAddress"
	pathParticipant   = "$.participant.user.emailAddress"
	pathStatus        = "$.participant.status"
	pathCommentText   = "$.comment.text"
	pathCommentAuthor = "$.comment.author.emailAddress"
)

// Extractor turns raw webhook bodies into Events.
type Extractor struct {
	comments *CommentFilter
}

// NewExtractor returns an Extractor that drops comments matched by filter.
// A nil filter keeps every comment.
func NewExtractor(filter *CommentFilter) *Extractor {
	return &Extractor{comments: filter}
}

// Extract decodes payload and builds the matching Event. The boolean is false
// when the event was ignored by a comment rule; that is not an error.
func (x *Extractor) Extract(payload []byte) (Event, bool, error) {
	var obj interface{}
	if err := json.Unmarshal(payload, &obj); err != nil {
		return nil, false, malformed("$", "invalid json: %v", err)
	}
	return x.ExtractObject(obj)
}

// ExtractObject is Extract for an already decoded JSON value.
func (x *Extractor) ExtractObject(obj interface{}) (Event, bool, error) {
	root, ok := obj.(map[string]interface{})
	if !ok {
		return nil, false, malformed("$", "expected object, got %T", obj)
	}
	key, err := stringAt(root, pathEventKey)
	if err != nil {
		return nil, false, err
	}
	kind, err := ParseKind(key)
	if err != nil {
		return nil, false, err
	}
	env, err := envelopeOf(root)
	if err != nil {
		return nil, false, err
	}

	switch {
	case kind == KindOpened:
		reviewers, err := reviewersOf(root)
		if err != nil {
			return nil, false, err
		}
		return &Opened{Envelope: env, Reviewers: reviewers}, true, nil
	case kind.isDecision():
		reviewer, err := stringAt(root, pathParticipant)
		if err != nil {
			return nil, false, err
		}
		rawStatus, err := stringAt(root, pathStatus)
		if err != nil {
			return nil, false, err
		}
		status, ok := parseReviewStatus(rawStatus)
		if !ok {
			return nil, false, malformed(pathStatus, "unknown review status %q", rawStatus)
		}
		if status != kind.reviewStatus() {
			return nil, false, malformed(pathStatus, "status %s does not match event %s", status, kind)
		}
		return &Decision{Envelope: env, EventKind: kind, Reviewer: reviewer, Status: status}, true, nil
	case kind == KindCommentAdded:
		text, err := stringAt(root, pathCommentText)
		if err != nil {
			return nil, false, err
		}
		commenter, err := stringAt(root, pathCommentAuthor)
		if err != nil {
			return nil, false, err
		}
		reviewers, err := reviewersOf(root)
		if err != nil {
			return nil, false, err
		}
		if x != nil && x.comments.Ignore(text, Flatten(root)) {
			return nil, false, nil
		}
		return &CommentAdded{Envelope: env, Commenter: commenter, Text: text, Reviewers: reviewers}, true, nil
	}
	return nil, false, fmt.Errorf("%w: %q", ErrUnrecognizedEventKind, key)
}

func envelopeOf(root map[string]interface{}) (Envelope, error) {
	var env Envelope
	fields := []struct {
		path string
		dst  *string
	}{
		{pathTitle, &env.Title},
		{pathRepository, &env.Repository},
		{pathProject, &env.Project},
		{pathAuthor, &env.Author},
		{pathLink, &env.Link},
	}
	for _, field := range fields {
		value, err := stringAt(root, field.path)
		if err != nil {
			return Envelope{}, err
		}
		*field.dst = value
	}
	return env, nil
}

func reviewersOf(root map[string]interface{}) ([]string, error) {
	value, err := jsonpath.Get(pathReviewers, root)
	if err != nil {
		return nil, malformed(pathReviewers, "%v", err)
	}
	items, ok := value.([]interface{})
	if !ok {
		return nil, malformed(pathReviewers, "expected array, got %T", value)
	}
	reviewers := make([]string, 0, len(items))
	for i, item := range items {
		path := fmt.Sprintf("%s[%d].user.emailAddress", pathReviewers, i)
		email, err := jsonpath.Get(pathReviewerEmail, item)
		if err != nil {
			return nil, malformed(path, "%v", err)
		}
		text, ok := email.(string)
		if !ok || text == "" {
			return nil, malformed(path, "expected non-empty string, got %T", email)
		}
		reviewers = append(reviewers, text)
	}
	return reviewers, nil
}

func stringAt(root interface{}, path string) (string, error) {
	value, err := jsonpath.Get(path, root)
	if err != nil {
		return "", malformed(path, "%v", err)
	}
	text, ok := value.(string)
	if !ok {
		return "", malformed(path, "expected string, got %T", value)
	}
	if text == "" {
		return "", malformed(path, "empty value")
	}
	return text, nil
}
