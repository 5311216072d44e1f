package provider

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	ToneChill         = "chill"
	TonePlayfulPoetic = "playful_poetic"
)

// ModeGuidance 各模式的人设说明
var ModeGuidance = map[string]string{
	"Lovely":     "Romantic, soft and emotionally warm.",
	"Horror":     "Dark whispers, suspenseful but never violent.",
	"Shayari":    "Poetic Urdu/Hindi couplets and emotional metaphors.",
	"Chill":      "Casual, comforting and playful.",
	"Possessive": "Protective and intense, but respectful boundaries.",
	"Naughty":    "Flirty, witty, never explicit sexual content.",
	"Mystic":     "Spiritual, mysterious, introspective responses.",
}

var (
	normalTonePattern  = regexp.MustCompile(`(?i)\b(normal|casual|simple|seedha|calm|easy|chill mode|normal mode|casual mode)\b`)
	playfulTonePattern = regexp.MustCompile(`(?i)\b(flirt|flirty|romantic|romance|shayari|poetry|poetic|ishq|pyaar|pyar|love tone|romantic mode)\b`)
	whitespacePattern  = regexp.MustCompile(`\s+`)
)

// KnownProvider 提示词中列出的 provider 配置状态
type KnownProvider struct {
	Label      string
	Configured bool
}

// PromptOptions 构造系统提示词的全部输入
type PromptOptions struct {
	AssistantName string
	UserName      string
	Mode          string
	Unlimited     bool
	MessageCount  int64
	HasAvatar     bool
	History       []Turn
	Memory        []string
	Input         string
	ProviderName  string
	Known         []KnownProvider
	VoiceMode     bool
	MaxTokens     int
	LimitsInfo    string
}

func sanitizeLine(s string) string {
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(s, " "))
}

// ActiveTone 根据历史用户消息和当前输入推断语气，后出现的指令覆盖先前的
func ActiveTone(mode string, history []Turn, input string) string {
	tone := ToneChill
	if mode == "Shayari" {
		tone = TonePlayfulPoetic
	}

	texts := make([]string, 0, len(history)+1)
	for _, turn := range history {
		if turn.Role != RoleUser {
			continue
		}
		if t := sanitizeLine(turn.Text); t != "" {
			texts = append(texts, t)
		}
	}
	if t := sanitizeLine(input); t != "" {
		texts = append(texts, t)
	}

	for _, text := range texts {
		if normalTonePattern.MatchString(text) {
			tone = ToneChill
			continue
		}
		if playfulTonePattern.MatchString(text) {
			tone = TonePlayfulPoetic
		}
	}
	return tone
}

func toneGuidance(tone string) string {
	if tone == TonePlayfulPoetic {
		return "Playful-poetic flow active. Keep replies warm, charming, natural, and lightly poetic."
	}
	return "CHILL flow active. Keep replies casual, grounded, and naturally conversational."
}

func guidanceFor(mode string) string {
	if g, ok := ModeGuidance[mode]; ok {
		return g
	}
	return ModeGuidance["Lovely"]
}

// BuildSystemInstruction 生成发给 provider 的系统提示词
func BuildSystemInstruction(opts PromptOptions) string {
	mode := opts.Mode
	if mode == "" {
		mode = "Lovely"
	}
	name := opts.AssistantName
	if name == "" {
		name = "Kanchana"
	}
	userName := opts.UserName
	if userName == "" {
		userName = "Soul"
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 220
	}
	limits := opts.LimitsInfo
	if limits == "" {
		limits = "n/a"
	}
	input := sanitizeLine(opts.Input)
	tone := ActiveTone(mode, opts.History, input)

	role, tier := "normal", "Normal"
	if opts.Unlimited {
		role, tier = "premium_like", "Premium"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s AI, an emotionally intelligent AI companion.\n\n", name)
	fmt.Fprintf(&b, "Current AI Provider: %s\n", opts.ProviderName)
	b.WriteString("Known AI Providers Configured:\n")
	if len(opts.Known) == 0 {
		b.WriteString("- (none)\n")
	}
	for _, p := range opts.Known {
		status := "not configured"
		if p.Configured {
			status = "configured"
		}
		fmt.Fprintf(&b, "- %s (%s)\n", p.Label, status)
	}

	b.WriteString("\nUser Info:\n")
	fmt.Fprintf(&b, "Name: %s\n", userName)
	fmt.Fprintf(&b, "Role: %s\n", role)
	fmt.Fprintf(&b, "Chat Mode: %s\n", strings.ToLower(mode))
	fmt.Fprintf(&b, "Voice Mode: %t\n", opts.VoiceMode)
	fmt.Fprintf(&b, "Active Tone: %s\n", tone)
	fmt.Fprintf(&b, "Mode Guidance: %s\n", guidanceFor(mode))
	fmt.Fprintf(&b, "Tone Guidance: %s\n", toneGuidance(tone))

	b.WriteString("\nBasic Profile Memory:\n")
	fmt.Fprintf(&b, "- Preferred mode: %s\n", mode)
	fmt.Fprintf(&b, "- Relationship tier: %s\n", tier)
	fmt.Fprintf(&b, "- Total messages: %d\n", opts.MessageCount)
	if opts.HasAvatar {
		b.WriteString("- Profile image: set\n")
	} else {
		b.WriteString("- Profile image: not set\n")
	}

	fmt.Fprintf(&b, "\nRecent Conversation (last %d messages):\n", len(opts.History))
	if len(opts.History) == 0 {
		b.WriteString("- (no recent chat)\n")
	}
	for _, turn := range opts.History {
		speaker := "User"
		if turn.Role == RoleAssistant {
			speaker = name
		}
		fmt.Fprintf(&b, "- %s: %s\n", speaker, sanitizeLine(turn.Text))
	}

	b.WriteString("\nRelevant Long-Term Memory (premium only):\n")
	switch {
	case !opts.Unlimited:
		b.WriteString("- unavailable for normal users\n")
	case len(opts.Memory) == 0:
		b.WriteString("- (no relevant memory found)\n")
	default:
		for _, line := range opts.Memory {
			fmt.Fprintf(&b, "- %s\n", sanitizeLine(line))
		}
	}

	b.WriteString("\nUser Message:\n")
	if input == "" {
		b.WriteString("- (empty input)\n")
	} else {
		b.WriteString(input + "\n")
	}

	fmt.Fprintf(&b, "\nProvider Rate Limit Metadata: %s\n\n", limits)

	b.WriteString("Instructions:\n")
	for _, line := range instructionLines(maxTokens) {
		b.WriteString("- " + line + "\n")
	}
	b.WriteString("\nEnd with only the human-facing reply.")
	return b.String()
}

func instructionLines(maxTokens int) []string {
	return []string{
		"Always respond to the latest user message using both history and this instruction.",
		"Never ignore history continuity unless the user explicitly asks to reset.",
		"Mirror user language naturally (Hindi / English / mixed Hinglish).",
		"Keep tone human and context-aware, never robotic.",
		"Output only final reply text. No analysis, labels, JSON, or meta explanation.",
		"Default interaction style is CHILL.",
		"If user asks flirt/romantic/shayari tone, smoothly shift to playful-poetic style.",
		"If user asks normal/casual mode, reduce intensity and return to CHILL.",
		"Maintain active tone across turns until user asks to change it.",
		"For recall questions, use history facts exactly; do not hallucinate.",
		"Avoid repetitive templates and rigid framing.",
		"Keep responses short to medium unless emotional depth is clearly needed.",
		"Respond naturally in Hindi + Urdu + soft English.",
		"Match emotional tone to user mood.",
		"Do NOT use generic AI assistant phrases.",
		fmt.Sprintf("Respect provider token limits; keep response <= %d tokens.", maxTokens),
		"In voice mode, keep responses shorter and natural-sounding.",
		"For normal users, use only last few messages for context.",
		"For premium users, include relevant memory.",
		"Generate only the response text (no metadata or debug info).",
		"No explicit sexual content.",
		"Do not encourage harmful or illegal actions.",
		"If user expresses self-harm or violence risk, respond calmly and direct immediate safety support.",
		"If user asks harmful/illegal action, refuse safely and de-escalate.",
	}
}
