package orchestrator

import "errors"

var (
	ErrEmptyMessage   = errors.New("message is required")
	ErrInvalidConfig  = errors.New("invalid orchestrator configuration")
	ErrStreamConsumed = errors.New("request stream already consumed")
	ErrInternal       = errors.New("internal error")
	ErrQualityFailed  = errors.New("answer failed quality review")
)

// Messages shown to the learner.
const (
	msgRequired    = "Message is required"
	msgDenied      = "You have run out of queries. Please wait for your health points to regenerate."
	msgUnavailable = "Sorry, the tutor is unavailable right now. Please try again in a moment."
	msgRateLimited = "Sorry, the tutor is receiving too many requests. Please try again in a moment."
	msgQuality     = "Sorry, I could not produce a reliable answer to that question. Please rephrase it or ask a TA."
	msgCanceled    = "The request was canceled."
	msgInternal    = "Sorry, an error occurred while processing your request."

	msgLoading  = "Looking at course content..."
	msgThinking = "Thinking..."
)
