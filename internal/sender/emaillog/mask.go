package emaillog

import "strings"

// MaskRecipient masks an address for logging: the first two characters of the
// local part, "***@", then the domain ("jo***@example.com"). The domain ends at
// a second "@", so "a@b@c" masks to "a***@b". Only the first recipient is
// considered. It returns "unknown" when there is no recipient and "invalid"
// when the address has no "@" or an empty local part or domain.
func MaskRecipient(recipients ...string) string {
	if len(recipients) == 0 || recipients[0] == "" {
		return "unknown"
	}

	parts := strings.Split(recipients[0], "@")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "invalid"
	}
	local, domain := parts[0], parts[1]

	if r := []rune(local); len(r) > 2 {
		local = string(r[:2])
	}
	return local + "***@" + domain
}
