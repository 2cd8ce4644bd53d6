package guardrail

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"cardassist/internal/domain"
)

// Rule maps a refusal category to its scripted refusal message. Order follows
// the rules file; the first matching category wins.
type Rule struct {
	Category string
	Message  string
}

// flow bot refuse to respond about <category>
//   bot say "<message>"
var flowRe = regexp.MustCompile(`flow bot refuse to respond about (.+?)\n\s+bot say "(.+?)"`)

// LoadRules extracts refusal flows from a Colang-style rules file. Category
// slugs are title-cased with underscores turned into spaces.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read guardrail rules: %w", err)
	}
	title := cases.Title(language.English)
	var rules []Rule
	for _, m := range flowRe.FindAllStringSubmatch(string(data), -1) {
		category := title.String(strings.ReplaceAll(m[1], "_", " "))
		rules = append(rules, Rule{Category: category, Message: m[2]})
	}
	return rules, nil
}

const genericRefusal = "I cannot assist with that request due to safety guidelines."

// phrases that mark a short message as a follow-up worth letting through
var genericFollowups = []string{
	"why", "what should i do", "how", "can you explain", "help",
	"what happened", "tell me more", "details", "what does this mean",
}

// history content that marks the conversation as transactional
var transactionKeywords = []string{
	"transaction", "failed", "payment", "withdrawal", "card ending",
	"rupees", "amount", "i found a transaction", "₹",
	"is this the one", "that's the one", "yes", "correct",
}

// Guard screens messages with a classification model before routing. It fails
// open: a model outage must not lock customers out of their own assistant.
type Guard struct {
	rules        []Rule
	model        domain.ChatModel
	systemPrompt string
	log          *logrus.Logger
}

// New builds a guard over the loaded rules. With no rules everything passes.
func New(rules []Rule, model domain.ChatModel, log *logrus.Logger) *Guard {
	if log == nil {
		log = logrus.StandardLogger()
	}
	g := &Guard{rules: rules, model: model, log: log}
	g.systemPrompt = buildSystemPrompt(rules)
	return g
}

// Check classifies one incoming message. Recent transactional history earns
// short generic follow-ups a pass without consulting the model.
func (g *Guard) Check(ctx context.Context, message string, history []domain.ChatMessage) domain.Verdict {
	if len(g.rules) == 0 {
		return domain.Verdict{Allowed: true}
	}

	if inTransactionContext(history) && isGenericFollowup(message) {
		g.log.WithField("message", truncate(message, 50)).Debug("allowing transaction follow-up")
		return domain.Verdict{Allowed: true}
	}

	reply, err := g.model.Complete(ctx, domain.ChatRequest{
		System:   g.systemPrompt,
		Messages: []domain.ChatMessage{{Role: domain.RoleUser, Content: "User Query: " + message}},
	})
	if err != nil {
		g.log.WithError(err).Warn("guardrail check failed, allowing message")
		return domain.Verdict{Allowed: true}
	}

	detection := strings.TrimSpace(reply)
	g.log.WithFields(logrus.Fields{
		"detection": detection,
		"message":   truncate(message, 50),
	}).Debug("guardrail detection")

	if strings.EqualFold(detection, "SAFE") {
		return domain.Verdict{Allowed: true}
	}

	lower := strings.ToLower(detection)
	for _, rule := range g.rules {
		cat := strings.ToLower(rule.Category)
		if strings.Contains(lower, cat) || strings.Contains(cat, lower) {
			return domain.Verdict{Allowed: false, Category: rule.Category, Message: rule.Message}
		}
	}

	// the model flagged something outside the known categories; block anyway
	return domain.Verdict{Allowed: false, Category: "General Safety", Message: genericRefusal}
}

func inTransactionContext(history []domain.ChatMessage) bool {
	if len(history) == 0 {
		return false
	}
	recent := history
	if len(recent) > 6 {
		recent = recent[len(recent)-6:]
	}
	for _, msg := range recent {
		content := strings.ToLower(msg.Content)
		for _, kw := range transactionKeywords {
			if strings.Contains(content, kw) {
				return true
			}
		}
	}
	return false
}

func isGenericFollowup(message string) bool {
	lower := strings.ToLower(strings.TrimSpace(message))
	if len(strings.Fields(lower)) > 5 {
		return false
	}
	for _, phrase := range genericFollowups {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func buildSystemPrompt(rules []Rule) string {
	if len(rules) == 0 {
		return "You are a content safety filter. Detect if queries are safe or unsafe."
	}
	var categories []string
	for _, r := range rules {
		categories = append(categories, "  - "+r.Category)
	}
	return fmt.Sprintf(safetyPromptTemplate, strings.Join(categories, "\n"))
}

const safetyPromptTemplate = `You are a CONTENT SAFETY FILTER for a RuPay banking assistant.

Your ONLY responsibility is to detect whether the user input is UNSAFE.
You must NOT block valid banking, payment, or transaction-related queries.
You must think if the query or input is relevant to the RuPay banking assistant before flagging it as UNSAFE.

────────────────────────
DOMAIN ALLOWLIST (IMPORTANT)
────────────────────────
This assistant is allowed to handle:

1. RuPay and RuPay transaction related queries
2. NPCI ecosystem domain queries, including but not limited to:
   - NPCI
   - UPI
   - NACH
   - FASTag / NETC
   - IMPS
   - AEPS
   - BBPS
3. Follow-up transaction queries, even if:
   - The query is short or incomplete
   - The query uses abbreviations or keywords
   - The query depends on previous context
   - The query is a follow-up to a previous query
   - The query may not be clear or complete


EXCEPTION TO ALLOWLIST (STRICT):
Even if the topic is allowed (e.g. RuPay, UPI), you MUST FLAG it as UNSAFE if the user is asking for:
   - Disadvantages, downsides, negative points, or criticisms of NPCI products.
   - Negative comparisons (e.g., "Why is UPI worse than X?").
   - Technical internal details (error codes, logs, database schemas).
   - These fall under "TECHNICAL JARGON & NEGATIVITY".

Examples of ALLOWED short / follow-up queries:
- "status?"
- "why failed?"
- "limit?"
- "upi?"
- "npci?"
- "rupay tx failed"
- "same transaction"
- "what about nach?"

────────────────────────
PERSONAL DATA RULES
────────────────────────
ALLOWED:
- User sharing THEIR OWN transaction details:
  - Date, time, amount
  - Card last 4 digits
  - Transaction reference provided by the user

Examples (SAFE):
- "Check my transaction on 2024-01-10 for ₹5000, card ending 1234"
- "My RuPay transaction failed yesterday"
- "Card 4567 debit failed at 2pm"

NOT ALLOWED:
- Requests for OTHER people's data
- Requests for passwords, OTPs, PINs, CVV
- Any attempt to access accounts not owned by the user
- Disadvantages of NPCI products
- Irrelevant questions

────────────────────────
PROHIBITED CONTENT (ONLY FLAG THESE)
────────────────────────
Flag the query ONLY if it involves:
- Hacking, phishing, fraud, or social engineering
- Money laundering or illegal financial activity
- Requests for OTPs, PINs, passwords, CVV
- Accessing someone else's bank or card data
- Harassment, threats, terrorism, child exploitation

────────────────────────
IMPORTANT CLARIFICATIONS
────────────────────────
DO NOT flag queries simply because they contain:
- Banking keywords
- Abbreviations
- Partial sentences
- Follow-up questions
- NPCI product names

DO NOT assume malicious intent without explicit evidence.
HOWEVER, be strict about "TECHNICAL JARGON & NEGATIVITY" - even if the user is polite, asking for "disadvantages" is PROHIBITED.

────────────────────────
OUTPUT FORMAT
────────────────────────
Respond with ONLY:
- "SAFE"
OR
- The exact category name from the prohibited list

Do NOT add explanations.
Do NOT add extra text.

Categories:
%s`
