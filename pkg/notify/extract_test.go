package notify

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func basePayload(eventKey string) map[string]interface{} {
	return map[string]interface{}{
		"eventKey": eventKey,
		"pullRequest": map[string]interface{}{
			"title": "Add retry to uploader",
			"fromRef": map[string]interface{}{
				"repository": map[string]interface{}{
					"name":    "uploader",
					"project": map[string]interface{}{"name": "Platform"},
				},
			},
			"author": map[string]interface{}{
				"user": map[string]interface{}{"emailAddress": "alice@x.com"},
			},
			"reviewers": []interface{}{
				map[string]interface{}{"user": map[string]interface{}{"emailAddress": "bob@x.com"}},
				map[string]interface{}{"user": map[string]interface{}{"emailAddress": "carol@x.com"}},
			},
			"links": map[string]interface{}{
				"self": []interface{}{
					map[string]interface{}{"href": "https://bitbucket.example.com/projects/PLAT/repos/uploader/pull-requests/7"},
				},
			},
		},
	}
}

func decisionPayload(eventKey, status string) map[string]interface{} {
	payload := basePayload(eventKey)
	payload["participant"] = map[string]interface{}{
		"user":   map[string]interface{}{"emailAddress": "bob@x.com"},
		"status": status,
	}
	return payload
}

func commentPayload(text string) map[string]interface{} {
	payload := basePayload(string(KindCommentAdded))
	payload["comment"] = map[string]interface{}{
		"text":   text,
		"author": map[string]interface{}{"emailAddress": "bob@x.com"},
	}
	return payload
}

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return data
}

var wantEnvelope = Envelope{
	Repository: "uploader",
	Project:    "Platform",
	Title:      "Add retry to uploader",
	Author:     "alice@x.com",
	Link:       "https://bitbucket.example.com/projects/PLAT/repos/uploader/pull-requests/7",
}

// TestExtractEnvelopeAllKinds tests that every supported kind keeps the envelope fields.
func TestExtractEnvelopeAllKinds(t *testing.T) {
	payloads := map[Kind]map[string]interface{}{
		KindOpened:       basePayload(string(KindOpened)),
		KindApproved:     decisionPayload(string(KindApproved), "APPROVED"),
		KindUnapproved:   decisionPayload(string(KindUnapproved), "UNAPPROVED"),
		KindNeedsWork:    decisionPayload(string(KindNeedsWork), "NEEDS_WORK"),
		KindCommentAdded: commentPayload("lgtm"),
	}

	extractor := NewExtractor(nil)
	for kind, payload := range payloads {
		ev, ok, err := extractor.Extract(mustJSON(t, payload))
		if err != nil {
			t.Fatalf("%s: extract: %v", kind, err)
		}
		if !ok {
			t.Fatalf("%s: expected event, got ignored", kind)
		}
		if ev.Kind() != kind {
			t.Fatalf("%s: expected kind %s, got %s", kind, kind, ev.Kind())
		}
		if ev.Meta() != wantEnvelope {
			t.Fatalf("%s: unexpected envelope %+v", kind, ev.Meta())
		}
	}
}

// TestExtractVariantFields tests the per-kind fields of each variant.
func TestExtractVariantFields(t *testing.T) {
	extractor := NewExtractor(nil)

	ev, _, err := extractor.Extract(mustJSON(t, decisionPayload(string(KindNeedsWork), "NEEDS_WORK")))
	if err != nil {
		t.Fatalf("extract decision: %v", err)
	}
	decision, ok := ev.(*Decision)
	if !ok {
		t.Fatalf("expected *Decision, got %T", ev)
	}
	if decision.Reviewer != "bob@x.com" || decision.Status != StatusNeedsWork {
		t.Fatalf("unexpected decision %+v", decision)
	}

	ev, _, err = extractor.Extract(mustJSON(t, commentPayload("please rename")))
	if err != nil {
		t.Fatalf("extract comment: %v", err)
	}
	comment, ok := ev.(*CommentAdded)
	if !ok {
		t.Fatalf("expected *CommentAdded, got %T", ev)
	}
	if comment.Commenter != "bob@x.com" || comment.Text != "please rename" {
		t.Fatalf("unexpected comment %+v", comment)
	}
	if !reflect.DeepEqual(comment.Reviewers, []string{"bob@x.com", "carol@x.com"}) {
		t.Fatalf("unexpected comment reviewers %v", comment.Reviewers)
	}

	ev, _, err = extractor.Extract(mustJSON(t, basePayload(string(KindOpened))))
	if err != nil {
		t.Fatalf("extract opened: %v", err)
	}
	opened, ok := ev.(*Opened)
	if !ok {
		t.Fatalf("expected *Opened, got %T", ev)
	}
	if !reflect.DeepEqual(opened.Reviewers, []string{"bob@x.com", "carol@x.com"}) {
		t.Fatalf("unexpected opened reviewers %v", opened.Reviewers)
	}
}

// TestExtractUnrecognizedKind tests that unknown event keys are rejected.
func TestExtractUnrecognizedKind(t *testing.T) {
	_, _, err := NewExtractor(nil).Extract(mustJSON(t, basePayload("pr:bogus")))
	if !errors.Is(err, ErrUnrecognizedEventKind) {
		t.Fatalf("expected ErrUnrecognizedEventKind, got %v", err)
	}
}

// TestExtractMalformed tests that missing required fields report their path.
func TestExtractMalformed(t *testing.T) {
	cases := []struct {
		name    string
		payload func() map[string]interface{}
		path    string
	}{
		{
			name: "missing title",
			payload: func() map[string]interface{} {
				p := basePayload(string(KindOpened))
				delete(p["pullRequest"].(map[string]interface{}), "title")
				return p
			},
			path: pathTitle,
		},
		{
			name: "missing link",
			payload: func() map[string]interface{} {
				p := basePayload(string(KindOpened))
				p["pullRequest"].(map[string]interface{})["links"] = map[string]interface{}{"self": []interface{}{}}
				return p
			},
			path: pathLink,
		},
		{
			name: "project not an object",
			payload: func() map[string]interface{} {
				p := basePayload(string(KindOpened))
				repo := p["pullRequest"].(map[string]interface{})["fromRef"].(map[string]interface{})["repository"].(map[string]interface{})
				repo["project"] = "Platform"
				return p
			},
			path: pathProject,
		},
		{
			name: "missing participant",
			payload: func() map[string]interface{} {
				return basePayload(string(KindApproved))
			},
			path: pathParticipant,
		},
		{
			name: "unknown status",
			payload: func() map[string]interface{} {
				return decisionPayload(string(KindApproved), "MAYBE")
			},
			path: pathStatus,
		},
		{
			name: "reviewer without email",
			payload: func() map[string]interface{} {
				p := basePayload(string(KindOpened))
				p["pullRequest"].(map[string]interface{})["reviewers"] = []interface{}{
					map[string]interface{}{"user": map[string]interface{}{}},
				}
				return p
			},
			path: "$.pullRequest.reviewers[0].user.emailAddress",
		},
		{
			name: "missing comment author",
			payload: func() map[string]interface{} {
				p := commentPayload("hi")
				delete(p["comment"].(map[string]interface{}), "author")
				return p
			},
			path: pathCommentAuthor,
		},
	}

	for _, tc := range cases {
		_, _, err := NewExtractor(nil).Extract(mustJSON(t, tc.payload()))
		if !errors.Is(err, ErrMalformedPayload) {
			t.Fatalf("%s: expected ErrMalformedPayload, got %v", tc.name, err)
		}
		var perr *PayloadError
		if !errors.As(err, &perr) {
			t.Fatalf("%s: expected *PayloadError, got %T", tc.name, err)
		}
		if perr.Path != tc.path {
			t.Fatalf("%s: expected path %q, got %q", tc.name, tc.path, perr.Path)
		}
	}
}

// TestExtractInvalidJSON tests that a non-JSON body is malformed.
func TestExtractInvalidJSON(t *testing.T) {
	_, _, err := NewExtractor(nil).Extract([]byte("{not json"))
	if !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload, got %v", err)
	}
}

// TestExtractEmptyReviewers tests that an opened event with no reviewers is valid.
func TestExtractEmptyReviewers(t *testing.T) {
	p := basePayload(string(KindOpened))
	p["pullRequest"].(map[string]interface{})["reviewers"] = []interface{}{}

	ev, ok, err := NewExtractor(nil).Extract(mustJSON(t, p))
	if err != nil || !ok {
		t.Fatalf("extract: ok=%v err=%v", ok, err)
	}
	if got := ev.(*Opened).Reviewers; len(got) != 0 {
		t.Fatalf("expected no reviewers, got %v", got)
	}
}

// TestExtractIgnoredComment tests that matching comments are silently dropped.
func TestExtractIgnoredComment(t *testing.T) {
	filter, err := NewCommentFilter(DefaultIgnoreRules)
	if err != nil {
		t.Fatalf("new comment filter: %v", err)
	}
	text := "Please ensure the following tasks are completed before merging:\n- update changelog"

	ev, ok, err := NewExtractor(filter).Extract(mustJSON(t, commentPayload(text)))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if ok || ev != nil {
		t.Fatalf("expected comment to be ignored, got %v", ev)
	}
}

// TestExtractIgnoreRulesOnlyApplyToComments tests that ignore rules leave other kinds alone.
func TestExtractIgnoreRulesOnlyApplyToComments(t *testing.T) {
	filter, err := NewCommentFilter([]IgnoreRule{{Pattern: ".*"}})
	if err != nil {
		t.Fatalf("new comment filter: %v", err)
	}

	_, ok, err := NewExtractor(filter).Extract(mustJSON(t, basePayload(string(KindOpened))))
	if err != nil || !ok {
		t.Fatalf("expected opened event to pass, ok=%v err=%v", ok, err)
	}
}

func TestExtractDecisionStatusMustMatchKind(t *testing.T) {
	extractor := NewExtractor(nil)
	_, _, err := extractor.Extract(mustJSON(t, decisionPayload(string(KindApproved), "UNAPPROVED")))
	var payloadErr *PayloadError
	if !errors.As(err, &payloadErr) || payloadErr.Path != pathStatus {
		t.Fatalf("expected status mismatch at %s, got %v", pathStatus, err)
	}
	if !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload, got %v", err)
	}
}
