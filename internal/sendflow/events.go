package sendflow

import "fmt"

// FormEvent is an event dispatched from the send form.
type FormEvent string

const (
	FormCancel         FormEvent = "Cancel"
	FormClearRecipient FormEvent = "ClearRecipient"
	FormSetMax         FormEvent = "SetMax"
	FormRecipient      FormEvent = "Recipient"
	FormAmount         FormEvent = "Amount"
	FormConfirm        FormEvent = "Confirm"
	FormRefreshRates   FormEvent = "RefreshRates"
)

// ReviewEvent is an event dispatched from the review screen.
type ReviewEvent string

const (
	ReviewHeaderBack ReviewEvent = "HeaderBack"
	ReviewSend       ReviewEvent = "Send"
)

func ParseFormEvent(name string) (FormEvent, error) {
	switch e := FormEvent(name); e {
	case FormCancel, FormClearRecipient, FormSetMax, FormRecipient, FormAmount, FormConfirm, FormRefreshRates:
		return e, nil
	}
	return "", fmt.Errorf("%w: form event %q", ErrUnrecognizedEvent, name)
}

func ParseReviewEvent(name string) (ReviewEvent, error) {
	switch e := ReviewEvent(name); e {
	case ReviewHeaderBack, ReviewSend:
		return e, nil
	}
	return "", fmt.Errorf("%w: review event %q", ErrUnrecognizedEvent, name)
}
