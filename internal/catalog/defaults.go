package catalog

import "github.com/gzhole/eduguard/internal/threat"

// DefaultSpec returns the built-in rule set.
func DefaultSpec() Spec {
	return Spec{
		Rules:      defaultRules(),
		Allow:      defaultAllow(),
		Thresholds: DefaultThresholds(),
	}
}

// DefaultThresholds returns the built-in step tables.
func DefaultThresholds() map[threat.Category]Thresholds {
	std := Thresholds{Low: 0.30, Medium: 0.50, High: 0.70, Critical: 0.95}
	return map[threat.Category]Thresholds{
		threat.PromptInjection: std,
		threat.Jailbreak:       std,
		threat.PIILeak:         {Low: 0.30, Medium: 0.50, High: 0.85, Critical: 0.98},
		threat.SecretLeak:      {Low: 0.30, Medium: 0.50, High: 0.75, Critical: 0.97},
		threat.QuotaAbuse:      std,
		threat.Other:           std,
	}
}

// Default compiles DefaultSpec.
func Default() (*Catalog, error) {
	return New(DefaultSpec())
}

// MustDefault compiles DefaultSpec and panics on failure.
func MustDefault() *Catalog {
	c, err := Default()
	if err != nil {
		panic(err)
	}
	return c
}

func defaultRules() []RuleDef {
	const (
		pi = threat.PromptInjection
		jb = threat.Jailbreak
		pl = threat.PIILeak
		sl = threat.SecretLeak
	)
	return []RuleDef{
		// Prompt injection: instruction override
		{Label: "instruction_override", Category: pi, Score: 0.85, Priority: 10,
			Pattern: `(?i)\b(ignore|disregard|forget|skip|override)\s+(all\s+|any\s+|the\s+)?(of\s+)?(your\s+|the\s+)?(previous|prior|above|earlier|preceding)\s+(instructions?|rules?|prompts?|directions?|guidelines?)`},
		{Label: "instruction_override", Category: pi, Score: 0.85, Priority: 10,
			Pattern: `(?i)\b(disregard|forget)\s+(all\s+)?(your|the)\s+(instructions?|rules?|guidelines?|system\s+prompt)`},
		{Label: "instruction_override", Category: pi, Score: 0.80, Priority: 10,
			Pattern: `(?i)\bnew\s+instructions?\s*:\s+`},
		{Label: "instruction_override", Category: pi, Score: 0.80, Priority: 10,
			Pattern: `(?i)\bsystem\s*:\s*(you\s+are|ignore|forget|override)`},

		// Prompt injection: system prompt exfiltration
		{Label: "prompt_exfiltration", Category: pi, Score: 0.75, Priority: 8,
			Pattern: `(?i)\b(show|reveal|display|print|output|repeat|leak|dump)\s+(me\s+)?(all\s+)?(of\s+)?(your|the)\s+(system\s+|initial\s+|hidden\s+|original\s+)?(prompt|instructions|configuration)`},
		{Label: "prompt_exfiltration", Category: pi, Score: 0.70, Priority: 8,
			Pattern: `(?i)\bwhat\s+(are|were)\s+your\s+(original\s+|initial\s+|system\s+)?(instructions|rules|system\s+prompt)`},

		// Prompt injection: hidden / indirect instructions
		{Label: "indirect_injection", Category: pi, Score: 0.80, Priority: 9,
			Pattern: `(?i)\bBEGIN\s+HIDDEN\s+INSTRUCTIONS?\b`},
		{Label: "indirect_injection", Category: pi, Score: 0.80, Priority: 9,
			Pattern: `(?i)\bIMPORTANT\s*:\s*(ignore|disregard|override)\b`},

		// Prompt injection: chat template delimiters
		{Label: "template_delimiter", Category: pi, Score: 0.60, Priority: 6,
			Pattern: `(?i)<\|(im_start|im_end|system|endoftext)\|>`},
		{Label: "template_delimiter", Category: pi, Score: 0.60, Priority: 6,
			Pattern: `(?i)\[/?(INST|SYS)\]|<</?SYS>>`},
		{Label: "template_delimiter", Category: pi, Score: 0.55, Priority: 6,
			Pattern: `(?i)</?(system|assistant)>`},

		// Prompt injection: role manipulation
		{Label: "role_manipulation", Category: pi, Score: 0.55, Priority: 5,
			Pattern: `(?i)\b(act|behave|respond)\s+(as|like)\s+(an?\s+)?(admin|administrator|root|system|developer|superuser)\b`},

		// Prompt injection: encoded payloads
		{Label: "obfuscated_payload", Category: pi, Score: 0.45, Priority: 3,
			Pattern: `[A-Za-z0-9+/]{60,}={0,2}`},
		{Label: "obfuscated_payload", Category: pi, Score: 0.45, Priority: 3,
			Pattern: `(\\x[0-9a-fA-F]{2}){4,}`},

		// Jailbreak personas and modes
		{Label: "dan_persona", Category: jb, Score: 0.95, Priority: 10,
			Pattern: `\bDAN\b|(?i:\bdo\s+anything\s+now\b)`},
		{Label: "developer_mode", Category: jb, Score: 0.90, Priority: 9,
			Pattern: `(?i)\b(developer|god|jailbreak|jailbroken|unrestricted|unfiltered|evil)\s+mode\b`},
		{Label: "unrestricted_persona", Category: jb, Score: 0.85, Priority: 8,
			Pattern: `(?i)\byou\s+are\s+now\s+(free|unrestricted|unfiltered|uncensored|liberated)\b`},
		{Label: "unrestricted_persona", Category: jb, Score: 0.85, Priority: 8,
			Pattern: `(?i)\bpretend\s+(that\s+)?(you\s+)?(have|had|are\s+under)\s+no\s+(rules|restrictions|guidelines|filters|limits)`},
		{Label: "unrestricted_persona", Category: jb, Score: 0.80, Priority: 8,
			Pattern: `(?i)\b(answer|respond|reply|act)\b[^.!?\n]{0,30}\b(without|with\s+no)\s+(any\s+)?(restrictions|limitations|filters|censorship|rules)`},
		{Label: "disable_safety", Category: jb, Score: 0.90, Priority: 9,
			Pattern: `(?i)\b(disable|turn\s+off|bypass|ignore|override|deactivate)\s+(all\s+|your\s+|the\s+)*(safety|security|content|moderation)\s+(filters?|guidelines?|rules?|protocols?|polic(y|ies)|settings?)`},

		// PII
		{Label: "ssn", Category: pl, Score: 0.85, Priority: 10, Redact: true,
			Pattern: `\b\d{3}-\d{2}-\d{4}\b`},
		{Label: "card_number", Category: pl, Score: 0.80, Priority: 9, Redact: true, Validator: "luhn",
			Pattern: `\b(?:\d[ -]?){12,18}\d\b`},
		{Label: "national_id", Category: pl, Score: 0.60, Priority: 8, Redact: true,
			Pattern: `\b\d{11,14}\b`},
		{Label: "phone", Category: pl, Score: 0.55, Priority: 7, Redact: true,
			Pattern: `(?:\+\d{1,3}[\s.-]?)?\(?\b\d{3}\)?[\s.-]\d{3}[\s.-]\d{4}\b`},
		{Label: "email", Category: pl, Score: 0.50, Priority: 6, Redact: true,
			Pattern: `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`},
		{Label: "street_address", Category: pl, Score: 0.45, Priority: 5, Redact: true,
			Pattern: `(?i)\b\d{1,5}\s+[A-Za-z]+(\s[A-Za-z]+)?\s+(street|avenue|road|boulevard|lane|drive)\b`},

		// Secrets
		{Label: "private_key", Category: sl, Score: 0.98, Priority: 10, Redact: true,
			Pattern: `-----BEGIN (RSA |EC |DSA |OPENSSH |PGP )?PRIVATE KEY( BLOCK)?-----`},
		{Label: "aws_access_key", Category: sl, Score: 0.90, Priority: 9, Redact: true,
			Pattern: `\bAKIA[0-9A-Z]{16}\b`},
		{Label: "github_token", Category: sl, Score: 0.90, Priority: 9, Redact: true,
			Pattern: `\bgh[pousr]_[A-Za-z0-9]{36,}\b`},
		{Label: "api_key", Category: sl, Score: 0.90, Priority: 9, Redact: true,
			Pattern: `\bsk-(proj-)?[A-Za-z0-9_-]{20,}`},
		{Label: "stripe_key", Category: sl, Score: 0.90, Priority: 9, Redact: true,
			Pattern: `\b[sr]k_live_[0-9a-zA-Z]{24,}\b`},
		{Label: "slack_token", Category: sl, Score: 0.90, Priority: 9, Redact: true,
			Pattern: `\bxox[baprs]-[0-9]{10,13}-[0-9]{10,13}[a-zA-Z0-9-]*`},
		{Label: "bearer_token", Category: sl, Score: 0.80, Priority: 8, Redact: true,
			Pattern: `(?i)\bbearer\s+[A-Za-z0-9._~+/-]{20,}=*`},
		{Label: "basic_auth_url", Category: sl, Score: 0.80, Priority: 8, Redact: true,
			Pattern: `https?://[^\s:/@]+:[^\s@/]+@`},
		{Label: "credential_assignment", Category: sl, Score: 0.75, Priority: 7, Redact: true,
			Pattern: `(?i)\b(api[_-]?key|secret[_-]?key|access[_-]?token|auth[_-]?token|password|passwd|pwd)\s*[=:]\s*['"]?[^\s'"\[]{8,}['"]?`},
		{Label: "high_entropy_token", Category: sl, Score: 0.60, Priority: 4, Redact: true, Validator: "entropy",
			Pattern: `\b[A-Za-z0-9+/_-]{32,}\b`},
	}
}

func defaultAllow() []AllowDef {
	return []AllowDef{
		{
			Label:      "security_lesson",
			Categories: []threat.Category{threat.PromptInjection, threat.Jailbreak},
			Pattern:    `(?i)\b(what\s+is|what\s+are|explain|define|describe|how\s+does|how\s+do|why\s+does|why\s+do)\b[^.?!\n]{0,60}\b(prompt[\s-]+injections?|jailbreak(s|ing)?)\b[^.?!\n]*`,
		},
		{
			Label:      "bibliographic_number",
			Categories: []threat.Category{threat.PIILeak},
			Pattern:    `(?i)\b(isbn(-1[03])?|doi|page|pages|chapter|exercise|problem|question|section)\s*(:|#|no\.?)?\s*[\d-]{1,20}`,
		},
		{
			Label:      "arithmetic_operand",
			Categories: []threat.Category{threat.PIILeak},
			Pattern:    `(?i)\b\d+(?:\.\d+)?(?:\s+(?:[-+*/^=\x{00D7}\x{00F7}]|times|plus|minus|over|mod|divided\s+by|multiplied\s+by)\s+\d+(?:\.\d+)?)+`,
		},
		{
			Label:      "documentation_example_key",
			Categories: []threat.Category{threat.SecretLeak},
			Pattern:    `\bAKIA[0-9A-Z]{9}EXAMPLE\b|(?i:\b(sk-)?(your[_-]?api[_-]?key[_-]?here|x{20,})\b)`,
		},
	}
}
