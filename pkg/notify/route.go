package notify

// Router turns events into addressed messages.
type Router struct {
	identities IdentityMap
}

// NewRouter returns a Router that resolves recipients through identities.
func NewRouter(identities IdentityMap) *Router {
	return &Router{identities: identities}
}

// Route applies the fan-out policy for ev's kind:
//   - decisions notify the pull request author;
//   - comments notify the author and every reviewer except the commenter;
//   - openings notify each reviewer.
//
// Messages come out in author-then-reviewer order.
func (r *Router) Route(ev Event) []AddressedMessage {
	resolve := r.identities.Resolve
	switch e := ev.(type) {
	case *Decision:
		text := Render(e, resolve(e.Reviewer))
		return []AddressedMessage{{Recipient: resolve(e.Author), Text: text}}
	case *CommentAdded:
		text := Render(e, resolve(e.Commenter))
		recipients := commentRecipients(e, resolve)
		out := make([]AddressedMessage, 0, len(recipients))
		for _, recipient := range recipients {
			out = append(out, AddressedMessage{Recipient: recipient, Text: text})
		}
		return out
	case *Opened:
		out := make([]AddressedMessage, 0, len(e.Reviewers))
		for _, reviewer := range e.Reviewers {
			out = append(out, AddressedMessage{
				Recipient: resolve(reviewer),
				Text:      Render(e, resolve(e.Author)),
			})
		}
		return out
	}
	return nil
}

// commentRecipients returns the resolved, de-duplicated author and reviewers,
// never including the commenter.
func commentRecipients(e *CommentAdded, resolve func(string) string) []string {
	commenter := resolve(e.Commenter)
	seen := map[string]struct{}{commenter: {}}
	candidates := append([]string{e.Author}, e.Reviewers...)
	out := make([]string, 0, len(candidates))
	for _, id := range candidates {
		if id == e.Commenter {
			continue
		}
		recipient := resolve(id)
		if _, ok := seen[recipient]; ok {
			continue
		}
		seen[recipient] = struct{}{}
		out = append(out, recipient)
	}
	return out
}
