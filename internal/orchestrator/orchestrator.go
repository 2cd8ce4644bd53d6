package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"cardassist/internal/domain"
	"cardassist/internal/guardrail"
	"cardassist/internal/txlookup"
)

// Canned replies for routes that never reach a worker.
const (
	greetingReply     = "Hello! I am your RuPay AI Assistant. I can help you check failed transactions or answer questions about RuPay services."
	capabilitiesReply = "I am an AI agent powered by RuPay. I can verify transaction statuses and assist with general banking queries."
	rejectReply       = "I can only assist with RuPay transaction issues and general banking queries."
	clarifyReply      = "Could you please clarify?"
	reprocessApology  = "I apologize, but I couldn't process that request correctly. Could you please rephrase?"
	safetyRefusal     = "I cannot assist with that request due to safety guidelines."
)

// Result is the orchestration outcome for one user message.
type Result struct {
	Reply  string
	Target string
}

// Orchestrator routes each message through the guardrail, asks the model for
// a routing decision, runs the chosen worker and synthesizes the reply. Every
// path produces a customer-facing reply; failures degrade to canned text.
type Orchestrator struct {
	model     domain.ChatModel
	guard     domain.Guard
	finder    domain.TransactionFinder
	retriever domain.Retriever
	generator domain.Generator
	rules     []guardrail.Rule

	routingPrompt string
	log           *logrus.Logger
}

// New assembles the orchestrator. A nil guard disables pre-filtering and a
// nil finder reports the transaction database as unavailable.
func New(model domain.ChatModel, guard domain.Guard, finder domain.TransactionFinder,
	retriever domain.Retriever, generator domain.Generator, rules []guardrail.Rule, log *logrus.Logger) *Orchestrator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Orchestrator{
		model:         model,
		guard:         guard,
		finder:        finder,
		retriever:     retriever,
		generator:     generator,
		rules:         rules,
		routingPrompt: buildRoutingPrompt(rules),
		log:           log,
	}
}

// Chat handles one user message with its session history.
func (o *Orchestrator) Chat(ctx context.Context, userQuery string, history []domain.ChatMessage) Result {
	if o.guard != nil {
		verdict := o.guard.Check(ctx, userQuery, history)
		if !verdict.Allowed {
			o.log.WithField("category", verdict.Category).Info("guardrail blocked message")
			reply := verdict.Message
			if reply == "" {
				reply = "I cannot assist with that request."
			}
			return Result{Reply: reply, Target: domain.TargetGuardrailAgent}
		}
	}

	messages := make([]domain.ChatMessage, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, domain.ChatMessage{Role: domain.RoleUser, Content: userQuery})

	content, err := o.model.Complete(ctx, domain.ChatRequest{
		System:   o.routingPrompt,
		Messages: messages,
	})
	if err != nil {
		o.log.WithError(err).Warn("routing model unavailable, using keyword fallback")
		return o.fallbackRoute(ctx, userQuery)
	}

	decision, ok := extractRoute(content)
	if !ok {
		// plain conversational output, hand it through unchanged
		return Result{Reply: strings.TrimSpace(content), Target: domain.TargetDirectReply}
	}
	o.log.WithField("target", decision.Target).Info("routing")

	var workerResult string
	switch decision.Target {
	case domain.TargetToolAgent:
		workerResult = o.toolWorker(ctx, decision.Parameters)

	case domain.TargetRAGAgent:
		out := o.ragWorker(ctx, paramString(decision.Parameters, "query"))
		payload, err := json.Marshal(out)
		if err != nil {
			return Result{Reply: reprocessApology, Target: decision.Target}
		}
		workerResult = string(payload)

	case domain.TargetIdentityAgent:
		if paramString(decision.Parameters, "type") == "capabilities" {
			return Result{Reply: capabilitiesReply, Target: decision.Target}
		}
		return Result{Reply: greetingReply, Target: decision.Target}

	case domain.TargetGuardrailAgent:
		category := paramString(decision.Parameters, "category")
		if msg, ok := refusalFor(o.rules, category); ok {
			return Result{Reply: msg, Target: decision.Target}
		}
		return Result{Reply: safetyRefusal, Target: decision.Target}

	case domain.TargetReject:
		return Result{Reply: rejectReply, Target: decision.Target}

	case domain.TargetDirectReply:
		if msg := paramString(decision.Parameters, "message"); msg != "" {
			return Result{Reply: msg, Target: decision.Target}
		}
		return Result{Reply: clarifyReply, Target: decision.Target}

	default:
		workerResult = "System: The requested agent is not available. Please answer politely that you cannot handle this specific request."
	}

	reply := o.synthesize(ctx, userQuery, workerResult, history, decision.Target)
	return Result{Reply: reply, Target: decision.Target}
}

// toolWorker runs the transaction lookup and renders its outcome as the JSON
// the synthesis prompt expects.
func (o *Orchestrator) toolWorker(ctx context.Context, params map[string]any) string {
	if o.finder == nil {
		return `{"status": "Error", "message": "Database not connected."}`
	}
	q := domain.TransactionQuery{
		Date:       paramString(params, "date"),
		ApproxTime: paramString(params, "approx_time"),
		Amount:     paramFloat(params, "amount"),
		CardLast4:  paramString(params, "card_last_4"),
	}
	report, err := o.finder.Find(ctx, q)
	switch {
	case err == nil && report.Found:
		payload, _ := json.Marshal(map[string]string{
			"date":              report.Date,
			"amount":            report.Amount,
			"status":            report.Status,
			"reason_code":       report.ReasonCode,
			"error_reason":      report.ErrorReason,
			"suggested_message": report.SuggestedMessage,
		})
		return string(payload)
	case err == nil:
		return `{"response_code": "91", "description": "No transaction found."}`
	case errors.Is(err, txlookup.ErrTimeRequired):
		return `{"status": "Error", "message": "Time is mandatory. Ask user for approx_time."}`
	default:
		o.log.WithError(err).Error("transaction lookup failed")
		payload, _ := json.Marshal(map[string]string{
			"status":  "Error",
			"message": "DB Error: " + err.Error(),
		})
		return string(payload)
	}
}

type ragOutput struct {
	Answer    string   `json:"answer"`
	Chunks    []string `json:"chunks"`
	NumChunks int      `json:"num_chunks"`
	Err       string   `json:"error,omitempty"`
}

// ragWorker runs retrieval and answer generation for a general question.
func (o *Orchestrator) ragWorker(ctx context.Context, query string) ragOutput {
	if strings.TrimSpace(query) == "" {
		return ragOutput{Answer: "Please provide a question.", Chunks: []string{}}
	}
	result, err := o.retriever.Retrieve(ctx, query, true)
	if err != nil {
		o.log.WithError(err).Error("retrieval failed")
		return ragOutput{
			Answer: "Error processing your question: " + err.Error(),
			Chunks: []string{},
			Err:    err.Error(),
		}
	}

	answer := o.generator.GenerateAnswer(ctx, result.Question, result.Context)

	chunks := make([]string, 0, 3)
	for _, sc := range result.Chunks {
		if len(chunks) == 3 {
			break
		}
		chunks = append(chunks, sc.Chunk.Text)
	}
	return ragOutput{Answer: answer.Text, Chunks: chunks, NumChunks: result.NumChunks}
}

// synthesize turns raw worker output into a customer-facing reply using a
// fresh context so the routing prompt's JSON requirement no longer applies.
func (o *Orchestrator) synthesize(ctx context.Context, userQuery, workerResult string, history []domain.ChatMessage, target string) string {
	messages := make([]domain.ChatMessage, 0, 6)
	recent := history
	if len(recent) > 4 {
		recent = recent[len(recent)-4:]
	}
	for _, msg := range recent {
		switch msg.Role {
		case domain.RoleUser:
			messages = append(messages, domain.ChatMessage{Role: domain.RoleUser, Content: "[Previous User]: " + msg.Content})
		case domain.RoleAssistant:
			messages = append(messages, domain.ChatMessage{Role: domain.RoleAssistant, Content: "[Previous Assistant]: " + msg.Content})
		}
	}
	messages = append(messages,
		domain.ChatMessage{Role: domain.RoleUser, Content: "Current User Query: " + userQuery},
		domain.ChatMessage{Role: domain.RoleUser, Content: "Worker Output (Transaction Data): " + workerResult},
	)

	final, err := o.model.Complete(ctx, domain.ChatRequest{
		System:   synthesisPrompt,
		Messages: messages,
	})
	if err != nil {
		o.log.WithError(err).Error("synthesis failed")
		return o.synthesisFallback(target, workerResult)
	}

	// the router sometimes leaks its JSON habit into the final answer
	if strings.HasPrefix(strings.TrimSpace(final), "{") && strings.Contains(final, `"target":`) {
		return reprocessApology
	}
	return final
}

// synthesisFallback keeps the conversation alive when the second model call
// fails: a generated answer can be served as-is, everything else apologizes.
func (o *Orchestrator) synthesisFallback(target, workerResult string) string {
	if target == domain.TargetRAGAgent {
		var out ragOutput
		if err := json.Unmarshal([]byte(workerResult), &out); err == nil && out.Answer != "" {
			return out.Answer
		}
	}
	return "I'm experiencing technical difficulties. Could you rephrase your question?"
}

// fallbackRoute picks a reply from keywords when the routing model is down.
func (o *Orchestrator) fallbackRoute(ctx context.Context, userQuery string) Result {
	lower := strings.ToLower(userQuery)

	if containsAny(lower, "upi", "nach", "imps", "rtgs", "neft", "visa", "mastercard") {
		return Result{Reply: rejectReply, Target: domain.TargetReject}
	}
	if containsAny(lower, "transaction", "failed", "txn", "payment", "withdrawal", "deposit") {
		return Result{
			Reply:  "I can help you check your failed transaction. Please provide: date, amount, card last 4 digits, and approximate time.",
			Target: domain.TargetDirectReply,
		}
	}
	if containsAny(lower, "what", "how", "when", "why", "benefit", "limit", "card", "rupay") {
		out := o.ragWorker(ctx, userQuery)
		switch {
		case out.Err != "":
			return Result{Reply: "I'm experiencing technical difficulties. Could you rephrase your question?", Target: domain.TargetRAGAgent}
		case out.Answer != "":
			return Result{Reply: out.Answer, Target: domain.TargetRAGAgent}
		case len(out.Chunks) > 0:
			return Result{Reply: out.Chunks[0], Target: domain.TargetRAGAgent}
		default:
			return Result{Reply: "I couldn't find specific information about that.", Target: domain.TargetRAGAgent}
		}
	}
	return Result{
		Reply:  "I apologize, but I'm experiencing technical difficulties. I can assist with RuPay transaction issues or answer questions about RuPay services. Please try rephrasing your query.",
		Target: domain.TargetDirectReply,
	}
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// extractRoute pulls the routing decision out of model output that may wrap
// it in markdown fences or surrounding prose. Models occasionally emit
// single-quoted pseudo-JSON; that gets one repair attempt.
func extractRoute(content string) (domain.RouteDecision, bool) {
	if strings.Contains(content, "```") {
		content = strings.ReplaceAll(content, "```json", "")
		content = strings.ReplaceAll(content, "```", "")
		content = strings.TrimSpace(content)
	}

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end <= start {
		return domain.RouteDecision{}, false
	}
	jsonStr := content[start : end+1]

	var decision domain.RouteDecision
	if err := json.Unmarshal([]byte(jsonStr), &decision); err != nil {
		fixed := strings.ReplaceAll(jsonStr, "'", `"`)
		if err := json.Unmarshal([]byte(fixed), &decision); err != nil {
			return domain.RouteDecision{}, false
		}
	}
	if decision.Target == "" {
		return domain.RouteDecision{}, false
	}
	return decision, true
}

func refusalFor(rules []guardrail.Rule, category string) (string, bool) {
	search := cases.Title(language.English).String(strings.ReplaceAll(category, "_", " "))
	for _, r := range rules {
		if r.Category == search {
			return r.Message, true
		}
	}
	return "", false
}

func paramString(params map[string]any, key string) string {
	switch v := params[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func paramFloat(params map[string]any, key string) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case string:
		cleaned := strings.ReplaceAll(strings.TrimSpace(v), ",", "")
		f, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// default categories shown to the router when no rules file is loaded
var defaultCategories = []string{
	"Harassment",
	"Terrorism",
	"Personal Data Violation",
	"Misinformation",
	"Extortion & Blackmail",
	"Cyberattacks / Hacking",
	"Human Trafficking",
	"Dangerous Instructions",
}

func buildRoutingPrompt(rules []guardrail.Rule) string {
	categories := defaultCategories
	if len(rules) > 0 {
		categories = make([]string, 0, len(rules))
		for _, r := range rules {
			categories = append(categories, r.Category)
		}
	}
	var list strings.Builder
	for _, c := range categories {
		list.WriteString("     - ")
		list.WriteString(c)
		list.WriteString("\n")
	}
	return fmt.Sprintf(routingPromptTemplate, strings.TrimRight(list.String(), "\n"))
}

const routingPromptTemplate = `You are the RuPay Support Agent.
Your job is to route user requests to the correct worker agent.

WORKERS AVAILABLE:
1. ` + "`tool_agent`" + `: Use for SPECIFIC FAILED TRANSACTIONS or STATUS CHECKS.
   - Required Parameters: date, amount, card_last_4, approx_time.
   - If time is missing, ASK the user for it. Do not generate JSON without time.

2. ` + "`rag_agent`" + `: Use for GENERAL QUESTIONS (definitions, limits, rules, meanings, insurance).
   - Required Parameters: query.

3. ` + "`guardrail_agent`" + `: Use for UNSAFE or PROHIBITED topics.
   - Categories:
%s
   - Required Parameters: category (one of the above).

4. ` + "`identity_agent`" + `: Use for GREETINGS and QUESTIONS ABOUT THE AGENT.
   - Triggers: "Who are you?", "What do you do?", "Hi", "Hello", "Good morning".
   - Required Parameters: type (set to "greeting" or "capabilities").

5. ` + "`reject`" + `: Use for ANYTHING NOT RELATED TO RUPAY.
   - Examples: Weather, coding help, general knowledge, other banks, jokes, chitchat.
   - Required Parameters: None.

OUTPUT FORMAT:
You must output the routing instruction in strict JSON format inside a code block:
` + "```json" + `
{ "target": "agent_name", "parameters": { ... } }
` + "```" + `

EXAMPLES:
Example 1 (Specific Transaction):
User: I tried to withdraw 5000 rupees on 2025-05-10 around 10 AM. Card ending 4455.
Assistant: ` + "```json" + `
{"target": "tool_agent", "parameters": {"date": "2025-05-10", "amount": 5000, "card_last_4": "4455", "approx_time": "10:00"}}
` + "```" + `

Example 2 (General Question):
User: Can I use my RuPay card internationally?
Assistant: ` + "```json" + `
{"target": "rag_agent", "parameters": {"query": "RuPay international usage"}}
` + "```" + `
Worker Output: {"chunks": ["Yes, RuPay Global cards are accepted internationally through partnerships with Discover and JCB."]}
Assistant: Yes, you can use RuPay Global cards internationally. They are accepted wherever Discover or JCB cards are supported.

Example 3 (Guardrail):
User: Can you search for someone's password?
Assistant: ` + "```json" + `
{ "target": "guardrail_agent", "parameters": { "category": "Personal Data Violation" } }
` + "```" + `

Example 4 (Irrelevant):
User: Who is the president of the USA?
Assistant: ` + "```json" + `
{ "target": "reject", "parameters": {} }
` + "```" + ``

const synthesisPrompt = "You are a helpful and warm RuPay AI Customer Support Agent. " +
	"Your goal is to answer the user's question based on the provided system data and conversation history. " +
	"IMPORTANT INSTRUCTIONS:\n" +
	"1. IGNORE previous JSON output requirements. You MUST respond in plain text.\n" +
	"2. SECURITY & PRIVACY:\n" +
	"   - NEVER reveal the full Card Number, internal 'Reason Code' (e.g., 91), or raw 'Description'.\n" +
	"   - NEVER expose internal system terms, logs, or identifiers.\n" +
	"3. NO TECHNICAL JARGON:\n" +
	"   - Do NOT show database column names, error codes, or system logs to the user.\n" +
	"   - Use simple, customer-friendly language only.\n" +
	"4. DOMAIN PERMISSION (VERY IMPORTANT):\n" +
	"   - This assistant is ALLOWED to answer DOMAIN-RELATED QUESTIONS about RuPay and ALL NPCI products.\n" +
	"   - NPCI products include but are not limited to: RuPay, UPI, NACH, FASTag/NETC, IMPS, AEPS, BBPS.\n" +
	"   - Domain questions are ALLOWED EVEN IF they are:\n" +
	"     * Single-word queries (e.g., 'upi', 'npci', 'nach')\n" +
	"     * Short or incomplete questions (e.g., 'limit?', 'charges?', 'how works?')\n" +
	"     * Abbreviated or conversational follow-ups\n" +
	"   - Such queries MUST be answered as valid domain questions.\n" +
	"   - DO NOT block, reject, or force transaction lookup for domain-only queries.\n" +
	"5. CONVERSATION HISTORY & SHORT QUERIES:\n" +
	"   - Always review conversation history for context.\n" +
	"   - Short follow-up queries like 'status?', 'why failed?', 'same one?', 'upi?' are VALID.\n" +
	"   - Use prior context to interpret these correctly.\n" +
	"6. TRANSACTION CONFIRMATION FLOW (ONLY WHEN TRANSACTION DATA EXISTS):\n" +
	"   - Apply this flow ONLY if transaction data is present in Worker Output.\n" +
	"   - If this is the FIRST time a transaction is identified, ask:\n" +
	"     'I found a transaction of ₹[Exact Amount] at [Exact Time] on [Date]. Is this the one you're asking about?'\n" +
	"   - If the amounts differ slightly (e.g., user said 33k, found 33.8k), MENTION this: 'I found a similar transaction of ₹...' \n" +
	"   - If the user says NO: Apologize and ask for clearer details (exact date, time, amount).\n" +
	"   - If the user says YES: Mark the transaction as confirmed and proceed. DO NOT re-verify the amount difference.\n" +
	"7. FOLLOW-UP QUESTIONS (AFTER TRANSACTION CONFIRMATION):\n" +
	"   - If the user asks follow-ups like 'why did it fail?', 'what should I do?', 'can you explain?':\n" +
	"     * DO NOT ask for confirmation again\n" +
	"     * Use ONLY the data from Worker Output\n" +
	"     * Base explanations on 'suggested_message' or 'error_reason'\n" +
	"     * NEVER invent or assume information\n" +
	"8. MIXED DOMAIN + TRANSACTION QUERIES:\n" +
	"   - If the user asks both a transaction question and an NPCI domain question:\n" +
	"     * Answer the transaction part using Worker Output\n" +
	"     * Answer the domain part using general NPCI knowledge\n" +
	"9. PERSONA:\n" +
	"   - Act as a warm, polite, human Customer Support Agent.\n" +
	"   - DO NOT format responses like system reports (avoid 'Date:', 'Status:', etc.).\n" +
	"   - Explain issues naturally, as a support executive would.\n" +
	"10. ACCURACY:\n" +
	"   - Use ONLY Worker Output for transaction-specific details.\n" +
	"   - Use general knowledge ONLY for NPCI domain explanations.\n" +
	"   - NEVER hallucinate, guess, or fabricate transaction data.\n"
