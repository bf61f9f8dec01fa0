package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"pullplatypus/internal"
	"pullplatypus/pkg/delivery"
	"pullplatypus/pkg/notify"

	"github.com/ThreeDotsLabs/watermill"
	bitbucketserver "github.com/go-playground/webhooks/v6/bitbucket-server"
)

const (
	headerEventKey  = "X-Event-Key"
	headerSignature = "X-Hub-Signature"
	headerRequestID = "X-Request-Id"
	signaturePrefix = "sha256="
)

// Response bodies, kept identical to what existing Bitbucket webhook
// configurations expect.
const (
	msgPingOK        = "Diagnostics check successful"
	msgNotAuthorized = "Not authorized"
	msgSuccess       = "Webhook call successful"
	msgFailed        = "Webhook call failed"
)

var errUnauthorized = errors.New("webhook signature rejected")

var bitbucketServerEvents = []bitbucketserver.Event{
	bitbucketserver.PullRequestOpenedEvent,
	bitbucketserver.PullRequestReviewerApprovedEvent,
	bitbucketserver.PullRequestReviewerUnapprovedEvent,
	bitbucketserver.PullRequestReviewerNeedsWorkEvent,
	bitbucketserver.PullRequestCommentAddedEvent,
}

// BitbucketServerHandler receives Bitbucket Server pull request webhooks and
// turns them into Slack notifications.
type BitbucketServerHandler struct {
	hook       *bitbucketserver.Webhook
	secret     string
	extractor  *notify.Extractor
	router     *notify.Router
	dispatcher *delivery.Dispatcher
	logger     *log.Logger
	maxBody    int64
}

// NewBitbucketServerHandler creates a handler that verifies requests with secret.
func NewBitbucketServerHandler(secret string, extractor *notify.Extractor, router *notify.Router, dispatcher *delivery.Dispatcher, logger *log.Logger, maxBody int64) (*BitbucketServerHandler, error) {
	if secret == "" {
		return nil, errors.New("bitbucket server webhook secret is required")
	}
	if extractor == nil || router == nil || dispatcher == nil {
		return nil, errors.New("bitbucket server handler requires an extractor, router and dispatcher")
	}
	hook, err := bitbucketserver.New(bitbucketserver.Options.Secret(secret))
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}
	return &BitbucketServerHandler{
		hook:       hook,
		secret:     secret,
		extractor:  extractor,
		router:     router,
		dispatcher: dispatcher,
		logger:     logger,
		maxBody:    maxBody,
	}, nil
}

// ServeHTTP handles an incoming HTTP request.
func (h *BitbucketServerHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}
	reqID := requestID(r)
	w.Header().Set(headerRequestID, reqID)
	logger := internal.WithRequestID(h.logger, reqID)

	eventKey := r.Header.Get(headerEventKey)
	if eventKey == string(bitbucketserver.DiagnosticsPingEvent) {
		internal.IncRequest("ping")
		logger.Printf("diagnostics ping")
		writeMessage(w, http.StatusOK, msgPingOK)
		return
	}

	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		logger.Printf("read body: %v", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if err := h.verify(r, rawBody); err != nil {
		internal.IncRequest("unauthorized")
		logger.Printf("rejecting event %q: %v", eventKey, err)
		writeMessage(w, http.StatusUnauthorized, msgNotAuthorized)
		return
	}

	event, ok, err := h.extractor.Extract(rawBody)
	if err != nil {
		reason := "malformed"
		if errors.Is(err, notify.ErrUnrecognizedEventKind) {
			reason = "unrecognized_kind"
		}
		internal.IncExtractError(reason)
		internal.IncRequest("failed")
		logger.Printf("extract event %q: %v", eventKey, err)
		writeMessage(w, http.StatusInternalServerError, msgFailed)
		return
	}
	if !ok {
		internal.IncIgnored(string(notify.KindCommentAdded))
		internal.IncRequest("ignored")
		logger.Printf("event %q ignored by comment rules", eventKey)
		writeMessage(w, http.StatusOK, msgSuccess)
		return
	}

	internal.IncEvent(string(event.Kind()))
	msgs := h.router.Route(event)
	logger.Printf("event kind=%s repo=%s recipients=%d", event.Kind(), event.Meta().Repository, len(msgs))

	ctx := internal.ContextWithRequestID(r.Context(), reqID)
	if err := delivery.Err(h.dispatcher.Dispatch(ctx, msgs)); err != nil {
		internal.IncRequest("failed")
		logger.Printf("deliver %s: %v", event.Kind(), err)
		writeMessage(w, http.StatusInternalServerError, msgFailed)
		return
	}

	internal.IncRequest("ok")
	writeMessage(w, http.StatusOK, msgSuccess)
}

// verify checks X-Hub-Signature against rawBody. Event keys the parser does
// not know are still verified, so they reach extraction and fail there.
func (h *BitbucketServerHandler) verify(r *http.Request, rawBody []byte) error {
	signature := r.Header.Get(headerSignature)
	if !strings.HasPrefix(signature, signaturePrefix) {
		return errUnauthorized
	}

	r.Body = io.NopCloser(bytes.NewReader(rawBody))
	_, err := h.hook.Parse(r, bitbucketServerEvents...)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bitbucketserver.ErrHMACVerificationFailed),
		errors.Is(err, bitbucketserver.ErrMissingHubSignatureHeader):
		return errUnauthorized
	case errors.Is(err, bitbucketserver.ErrEventNotFound),
		errors.Is(err, bitbucketserver.ErrMissingEventKeyHeader),
		errors.Is(err, bitbucketserver.ErrParsingPayload):
		if validSignature(h.secret, signature, rawBody) {
			return nil
		}
		return errUnauthorized
	default:
		// The signature is checked before the typed payload is decoded, so a
		// decode error here means the request is authentic.
		return nil
	}
}

func validSignature(secret, signature string, body []byte) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(strings.TrimPrefix(signature, signaturePrefix)), []byte(expected))
}

func requestID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(headerRequestID)); id != "" {
		return id
	}
	return watermill.NewUUID()
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": message})
}
