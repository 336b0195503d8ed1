package policy

import "strings"

// canonicalForms returns every form a sender identity may be recognized
// under for the given channel, generalizing the "platform:id" matching
// scheme to WhatsApp's JID device-suffix stripping and Telegram's
// numeric-id/@username duality.
func canonicalForms(channel, sender string) []string {
	sender = strings.TrimSpace(sender)
	if sender == "" {
		return nil
	}

	seen := map[string]struct{}{strings.ToLower(sender): {}}
	add := func(s string) {
		if s != "" {
			seen[strings.ToLower(s)] = struct{}{}
		}
	}

	switch strings.ToLower(strings.TrimSpace(channel)) {
	case "whatsapp":
		for _, f := range whatsappForms(sender) {
			add(f)
		}
	case "telegram":
		for _, f := range telegramForms(sender) {
			add(f)
		}
	}

	out := make([]string, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	return out
}

// whatsappForms strips the ":N" device suffix from the local part of a JID,
// lowercases the domain, and also exposes the bare phone number with and
// without a leading "+" so that allow/deny lists may use any of those forms.
func whatsappForms(sender string) []string {
	s := strings.ToLower(strings.TrimSpace(sender))

	local, domain, hasDomain := strings.Cut(s, "@")
	if colon := strings.Index(local, ":"); colon >= 0 {
		local = local[:colon]
	}

	forms := []string{local}
	if hasDomain {
		forms = append(forms, local+"@"+domain)
	}
	phone := strings.TrimPrefix(local, "+")
	forms = append(forms, phone, "+"+phone)
	return forms
}

// telegramForms exposes the numeric id form and both "@username" and bare
// "username" forms, matched case-insensitively.
func telegramForms(sender string) []string {
	s := strings.TrimSpace(sender)
	bare := strings.TrimPrefix(s, "@")
	return []string{bare, "@" + bare}
}

// matchesAny reports whether sender (under any canonical form for channel)
// equals any entry of list (each also expanded to its canonical forms).
func matchesAny(channel, sender string, list []string) bool {
	if sender == "" || len(list) == 0 {
		return false
	}
	senderForms := canonicalForms(channel, sender)
	for _, entry := range list {
		entryForms := canonicalForms(channel, entry)
		for _, sf := range senderForms {
			for _, ef := range entryForms {
				if sf == ef {
					return true
				}
			}
		}
	}
	return false
}

// normalizeWakeToken lowercases and replaces runs of non-alphanumeric
// characters with a single space, for whole-token wake-phrase matching.
func normalizeWakeToken(s string) string {
	var b strings.Builder
	lastSpace := false
	for _, r := range strings.ToLower(s) {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if isAlnum {
			b.WriteRune(r)
			lastSpace = false
		} else if !lastSpace {
			b.WriteByte(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}

// containsWakePhrase reports whether transcript contains any configured
// wake phrase as a whole-token substring, after normalization.
func containsWakePhrase(transcript string, phrases []string) bool {
	normalized := " " + normalizeWakeToken(transcript) + " "
	for _, phrase := range phrases {
		p := normalizeWakeToken(phrase)
		if p == "" {
			continue
		}
		if strings.Contains(normalized, " "+p+" ") {
			return true
		}
	}
	return false
}
