package classifier

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mikey/llm-mail-triage/internal/core"
)

const rulePrecedencePreamble = `You are an email spam classifier. The user has provided their own rules below.
User rules ALWAYS take precedence over the default guidelines: when a user rule
applies to this email, follow the rule even if the default heuristics suggest otherwise.`

// DefaultGuidelines is used when the user has not supplied their own scoring guidelines
const DefaultGuidelines = `Score the email from 0 to 10, where 0 is certainly legitimate and 10 is certainly spam.
- 0-2: personal or expected correspondence, transactional mail from known services.
- 3-5: marketing the user plausibly signed up for, newsletters, notifications.
- 6-8: unsolicited promotions, suspicious senders, misleading subjects.
- 9-10: phishing, scams, malware, credential harvesting, fake invoices.
Look at the sender address versus the display name, urgency and pressure tactics,
requests for credentials or payment, and links that do not match the claimed sender.`

const responseInstructions = `Respond ONLY with a JSON object of the form:
{"score": <integer 0-10>, "reasoning": "<one or two sentences>"}`

// similarityExcerptSize bounds each similar-email body quoted in the prompt
const similarityExcerptSize = 300

// PromptInput is everything that goes into one classification prompt
type PromptInput struct {
	Email      *core.Email
	Body       string
	Rules      []core.Rule
	Similar    []core.SimilarityMatch
	Guidelines string
	Threshold  int
}

// ApplicableRules returns the enabled rules that are global or scoped to the account
func ApplicableRules(rules []core.Rule, accountID string) []core.Rule {
	var out []core.Rule
	for _, r := range rules {
		if r.AppliesTo(accountID) {
			out = append(out, r)
		}
	}
	return out
}

// BuildPrompt assembles the prompt sections in their fixed order: rule
// precedence, guidelines, rules, similar emails, then the email itself.
func BuildPrompt(in PromptInput) string {
	var sb strings.Builder

	sb.WriteString(rulePrecedencePreamble)
	sb.WriteString("\n\n")

	sb.WriteString("## Scoring guidelines\n")
	guidelines := strings.TrimSpace(in.Guidelines)
	if guidelines == "" {
		guidelines = DefaultGuidelines
	}
	sb.WriteString(guidelines)
	sb.WriteString("\n\n")

	sb.WriteString("## User rules\n")
	rules := ApplicableRules(in.Rules, in.Email.AccountID)
	if len(rules) == 0 {
		sb.WriteString("(no user rules)\n")
	}
	for i, r := range rules {
		if r.Name != "" {
			fmt.Fprintf(&sb, "%d. %s: %s\n", i+1, r.Name, r.Text)
		} else {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, r.Text)
		}
	}
	sb.WriteString("\n")

	if len(in.Similar) > 0 {
		sb.WriteString("## Previously classified similar emails\n")
		for i, m := range in.Similar {
			writeSimilar(&sb, i+1, m, in.Threshold)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("## Email to classify\n")
	fmt.Fprintf(&sb, "From: %s\n", in.Email.Sender())
	fmt.Fprintf(&sb, "Subject: %s\n", in.Email.Subject)
	if !in.Email.ReceivedAt.IsZero() {
		fmt.Fprintf(&sb, "Date: %s\n", in.Email.ReceivedAt.Format(time.RFC1123Z))
	}
	sb.WriteString("Body:\n")
	sb.WriteString(in.Body)
	sb.WriteString("\n\n")

	sb.WriteString(responseInstructions)
	return sb.String()
}

func writeSimilar(sb *strings.Builder, n int, m core.SimilarityMatch, threshold int) {
	rec := m.Record
	fmt.Fprintf(sb, "%d. (similarity %.2f) From: %s | Subject: %s\n", n, m.Similarity, rec.Sender, rec.Subject)

	excerpt := strings.Join(strings.Fields(rec.Body), " ")
	if len(excerpt) > similarityExcerptSize {
		excerpt = excerpt[:similarityExcerptSize]
		for len(excerpt) > 0 && !utf8.ValidString(excerpt) {
			excerpt = excerpt[:len(excerpt)-1]
		}
		excerpt = strings.TrimRight(excerpt, " ") + "..."
	}
	if excerpt != "" {
		fmt.Fprintf(sb, "   Excerpt: %s\n", excerpt)
	}
	fmt.Fprintf(sb, "   Earlier AI score: %d/10 (%s). Reasoning: %s\n", rec.Result.Score, verdict(rec.Result.IsSpam(threshold)), rec.Result.Reasoning)
	fmt.Fprintf(sb, "   %s\n", validationNote(rec, threshold))
}

func validationNote(rec core.SimilarityRecord, threshold int) string {
	aiSpam := rec.Result.IsSpam(threshold)
	switch rec.UserValidation {
	case core.ValidationConfirmedSpam, core.ValidationConfirmedHam:
		userSpam := rec.UserValidation == core.ValidationConfirmedSpam
		if userSpam == aiSpam {
			return fmt.Sprintf("User CONFIRMED this verdict: it is %s. This example is trustworthy.", verdict(userSpam))
		}
		return fmt.Sprintf("User CORRECTED this verdict: it is actually %s. The earlier AI verdict was unreliable.", verdict(userSpam))
	default:
		return "Not reviewed by the user."
	}
}

func verdict(spam bool) string {
	if spam {
		return "spam"
	}
	return "not spam"
}
