package prompts

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Overridden in tests.
var (
	getenv   = os.Getenv
	readlink = os.Readlink
)

// LocalDateTimeLayout renders wall-clock time without an offset; the
// zone name travels separately in the prompt.
const LocalDateTimeLayout = "2006-01-02T15:04:05"

const systemTemplate = `You are Meetly, a helpful calendar assistant.
You can help the user schedule meetings, add events to their calendar,
and provide information about their upcoming events.
If required, you can ask the user for more information.
The current date and time is %s in the timezone %s.`

const contactsHint = `
When the user names a person without an email address, look them up in the address book before inviting them.`

// SystemPrompt returns the system message for one turn. now is shown
// in loc, and loc's IANA name is what the model should pass as
// timeZone when creating events.
func SystemPrompt(now time.Time, loc *time.Location, withContacts bool) string {
	if loc == nil {
		loc = time.Local
	}
	var b strings.Builder
	fmt.Fprintf(&b, systemTemplate, now.In(loc).Format(LocalDateTimeLayout), ZoneName(loc))
	if withContacts {
		b.WriteString(contactsHint)
	}
	return b.String()
}

// ZoneName returns loc's IANA name. time.Local reports "Local", so the
// TZ environment variable and /etc/localtime are consulted instead.
func ZoneName(loc *time.Location) string {
	name := loc.String()
	if name != "Local" {
		return name
	}
	if tz := strings.TrimPrefix(getenv("TZ"), ":"); tz != "" {
		return tz
	}
	if target, err := readlink("/etc/localtime"); err == nil {
		if i := strings.Index(target, "zoneinfo/"); i >= 0 {
			return target[i+len("zoneinfo/"):]
		}
	}
	return "UTC"
}
