package reminder

import (
	"fmt"
	"strings"

	"giftbot/internal/participant"
)

// Message is the text a giver receives offset days before their ward's
// birthday.
func Message(ward participant.Participant, offset int) string {
	var b strings.Builder
	switch offset {
	case 0:
		fmt.Fprintf(&b, "🎁 Reminder: today is the birthday of your ward %s!\n", ward.DisplayName())
	case 1:
		fmt.Fprintf(&b, "🎁 Reminder: 1 day left until the birthday of your ward %s!\n", ward.DisplayName())
	default:
		fmt.Fprintf(&b, "🎁 Reminder: %d days left until the birthday of your ward %s!\n", offset, ward.DisplayName())
	}
	fmt.Fprintf(&b, "Birthday: %s\n", ward.Birthday)
	wish := strings.TrimSpace(ward.Wish)
	if wish == "" {
		wish = "not specified"
	}
	fmt.Fprintf(&b, "Wishes: %s", wish)
	return b.String()
}
