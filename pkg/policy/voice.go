package policy

import "strings"

// ShouldSynthesizeVoice decides, given a chat's voice policy and whether the
// inbound message was itself a voice note, whether the reply should be
// synthesized as audio.
func ShouldSynthesizeVoice(v Voice, inboundWasVoice bool) bool {
	switch v.Output.Mode {
	case VoiceOutputAlways:
		return true
	case VoiceOutputInKind:
		return inboundWasVoice
	default: // text, off
		return false
	}
}

// EnforceVoiceLimits truncates text to the chat's configured maxSentences
// and maxChars before it is handed to TTS.
func EnforceVoiceLimits(v Voice, text string) string {
	out := text
	if v.Output.MaxSentences > 0 {
		out = truncateSentences(out, v.Output.MaxSentences)
	}
	if v.Output.MaxChars > 0 && len(out) > v.Output.MaxChars {
		out = out[:v.Output.MaxChars]
	}
	return out
}

func truncateSentences(text string, max int) string {
	var sentences []string
	start := 0
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			sentences = append(sentences, text[start:i+1])
			start = i + 1
			if len(sentences) >= max {
				return strings.TrimSpace(strings.Join(sentences, ""))
			}
		}
	}
	if start < len(text) {
		sentences = append(sentences, text[start:])
	}
	if len(sentences) > max {
		sentences = sentences[:max]
	}
	return strings.TrimSpace(strings.Join(sentences, ""))
}
