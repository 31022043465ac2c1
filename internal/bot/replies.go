package bot

import (
	"errors"

	"giftbot/internal/admin"
	"giftbot/internal/pairing"
	"giftbot/internal/storage"
)

const (
	textTryLater      = "Something went wrong, please try again later."
	textNotRegistered = "You are not registered yet. Use /start."
	textBadDate       = "Invalid date format. Enter DD.MM.YYYY:"
	textStale         = "⚠️ Saved, but the reminder schedule could not be updated. It will be rebuilt on the next refresh."
)

// errText maps domain errors to the reply an admin sees. ok is false for
// errors that are not the caller's fault.
func errText(err error) (string, bool) {
	switch {
	case errors.Is(err, pairing.ErrAmbiguousName):
		return "Several participants match that name. Use /set with internal ids instead.", true
	case errors.Is(err, pairing.ErrNameNotFound):
		return "No participant with that name.", true
	case errors.Is(err, storage.ErrNotFound):
		return "Participant not found.", true
	case errors.Is(err, storage.ErrSelfPairing):
		return "A participant cannot be their own ward.", true
	case errors.Is(err, pairing.ErrInsufficientParticipants):
		return "Not enough participants for pairing (need at least 2).", true
	case errors.Is(err, pairing.ErrPairingInfeasible):
		return "Could not find a valid pairing. With fewer than 3 participants every pairing is mutual.", true
	case errors.Is(err, admin.ErrSelfAction):
		return "You cannot do that to yourself.", true
	case errors.Is(err, admin.ErrNotAdmin):
		return "That participant is not an admin.", true
	case errors.Is(err, admin.ErrNeedTwoNames):
		return `Two names are required: /set_name "giver" "ward"`, true
	}
	return textTryLater, false
}

// outcome renders the reply for an admin mutation. A stale schedule still
// counts as success.
func outcome(done string, err error) (string, error) {
	switch {
	case err == nil:
		return done, nil
	case errors.Is(err, admin.ErrRemindersStale):
		return done + "\n" + textStale, nil
	}
	msg, expected := errText(err)
	if expected {
		return msg, nil
	}
	return msg, err
}
